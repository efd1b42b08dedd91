package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// recorder collects the responses received by the tabs of a session.
type recorder struct {
	mu       sync.Mutex
	pending  map[network.RequestID]pendingRequest
	requests []model.RequestRecord
}

type pendingRequest struct {
	method string
	sentAt time.Time
}

func newRecorder() *recorder {
	return &recorder{pending: make(map[network.RequestID]pendingRequest)}
}

func (r *recorder) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			r.sent(e.RequestID, e.Request.Method, time.Now())
		case *network.EventResponseReceived:
			if e.Response == nil {
				return
			}
			r.received(e.RequestID, e.Response.URL, int(e.Response.Status), headers(e.Response.Headers), time.Now())
		}
	})
}

func (r *recorder) sent(id network.RequestID, method string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = pendingRequest{method: method, sentAt: at}
}

func (r *recorder) received(id network.RequestID, url string, status int, hdr map[string]string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	} else {
		p = pendingRequest{method: "GET", sentAt: at}
	}
	r.requests = append(r.requests, model.RequestRecord{
		URL:          url,
		Method:       p.method,
		Status:       status,
		Headers:      hdr,
		RequestTime:  p.sentAt,
		ResponseTime: at,
	})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func (r *recorder) snapshot() []model.RequestRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RequestRecord, len(r.requests))
	copy(out, r.requests)
	return out
}

func headers(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = fmt.Sprint(v)
	}
	return out
}
