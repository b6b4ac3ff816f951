package verifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/fluxforge/agentcore/internal/tools"
)

const screenshotNavigationTimeout = 15 * time.Second

// screenshotMetadata mirrors the fields captured by the navigation so the
// text half of the tool result can summarize what the browser actually saw.
type screenshotMetadata struct {
	RequestedURL    string `json:"requested_url"`
	FinalURL        string `json:"final_url"`
	Title           string `json:"title"`
	HTTPStatus      int    `json:"http_status"`
	NavigationError string `json:"navigation_error,omitempty"`
	BodyExcerpt     string `json:"body_excerpt"`
}

// takeScreenshot launches a headless browser, navigates to url, and returns
// a multimodal tool result (a text summary plus the PNG as base64), the
// verifier's visual-verification capability. onArtifact, if non-nil, is
// called with the decoded PNG so the session can persist it.
func takeScreenshot(ctx context.Context, url string, onArtifact func(name string, data []byte, metadata map[string]any)) (tools.Result, error) {
	browser := rod.New()
	if err := browser.Connect(); err != nil {
		return tools.Result{}, fmt.Errorf("verifier: launch browser: %w", err)
	}
	defer browser.Close()

	meta := screenshotMetadata{RequestedURL: url}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return tools.Result{}, fmt.Errorf("verifier: open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(screenshotNavigationTimeout)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1280, Height: 800}); err != nil {
		meta.NavigationError = err.Error()
	}

	var httpStatus int
	wait := page.Browser().EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response.URL == url {
			httpStatus = e.Response.Status
		}
	})

	if err := page.Navigate(url); err != nil {
		meta.NavigationError = err.Error()
	} else {
		page.WaitLoad()
		time.Sleep(1 * time.Second)
		wait()
		meta.HTTPStatus = httpStatus
	}

	if info, err := page.Info(); err == nil {
		meta.FinalURL = info.URL
		meta.Title = info.Title
	}
	if body, err := page.Element("body"); err == nil {
		if bodyText, err := body.Text(); err == nil {
			meta.BodyExcerpt = truncateRunes(bodyText, 500)
		}
	} else if meta.NavigationError == "" {
		meta.NavigationError = fmt.Sprintf("metadata capture error: %v", err)
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return tools.Result{}, fmt.Errorf("verifier: capture screenshot: %w", err)
	}

	if onArtifact != nil {
		name := fmt.Sprintf("screenshot_%d", time.Now().UnixNano())
		onArtifact(name, data, map[string]any{
			"requested_url":    meta.RequestedURL,
			"final_url":        meta.FinalURL,
			"http_status":      meta.HTTPStatus,
			"title":            meta.Title,
			"navigation_error": meta.NavigationError,
		})
	}

	summary := fmt.Sprintf(
		"Screenshot captured. requested=%s final=%s status=%d title=%s",
		meta.RequestedURL, meta.FinalURL, meta.HTTPStatus, meta.Title,
	)

	return tools.Result{
		Kind: tools.KindContent,
		Content: []tools.ContentBlock{
			{Type: "text", Text: summary},
			{Type: "image", ImageMediaType: "image/png", ImageBase64: base64.StdEncoding.EncodeToString(data)},
		},
	}, nil
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
