package capture

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeBrowser opens isolated headless Chrome sessions over the DevTools
// protocol. Each session launches its own browser context so no cookies,
// cache, or observers leak between capture attempts.
type ChromeBrowser struct {
	ExecPath  string // optional explicit browser binary
	UserAgent string
}

type chromeSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSession launches a fresh browser context with the request observer
// armed before any navigation, so no manifest request can be missed.
func (b *ChromeBrowser) NewSession(ctx context.Context, observe func(requestURL string)) (Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("mute-audio", true),
	)
	if b.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.ExecPath))
	}
	if b.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		taskCancel()
		allocCancel()
	}

	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			observe(e.Request.URL)
		}
	})
	if err := chromedp.Run(taskCtx, network.Enable()); err != nil {
		cancel()
		return nil, err
	}
	return &chromeSession{ctx: taskCtx, cancel: cancel}, nil
}

func (s *chromeSession) Navigate(url string, timeout time.Duration) error {
	tctx, tcancel := context.WithTimeout(s.ctx, timeout)
	defer tcancel()
	return chromedp.Run(tctx, chromedp.Navigate(url))
}

// Click queries selector and clicks the first match. A missing element is
// reported via found=false, not an error, so the caller can move down its
// selector list.
func (s *chromeSession) Click(selector string) (bool, error) {
	tctx, tcancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer tcancel()
	var nodes []*cdp.Node
	if err := chromedp.Run(tctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return false, err
	}
	if len(nodes) == 0 {
		return false, nil
	}
	if err := chromedp.Run(tctx, chromedp.MouseClickNode(nodes[0])); err != nil {
		return true, err
	}
	return true, nil
}

func (s *chromeSession) ClickAt(x, y int64) error {
	tctx, tcancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer tcancel()
	return chromedp.Run(tctx, chromedp.MouseClickXY(float64(x), float64(y)))
}

// Close tears down the page and browser context. Safe on every path,
// including after a failed navigation.
func (s *chromeSession) Close() {
	s.closeOnce.Do(s.cancel)
}
