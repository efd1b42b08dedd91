package model

import "time"

// RequestRecord is one network response observed while a page was loading.
type RequestRecord struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Status       int               `json:"status"`
	Headers      map[string]string `json:"headers,omitempty"`
	RequestTime  time.Time         `json:"date_request"`
	ResponseTime time.Time         `json:"date_response"`
}

// LinkTask asks a worker to load a page and check every request it makes.
type LinkTask struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// PageReport is the worker answer for a LinkTask.
type PageReport struct {
	URL          string          `json:"url"`
	Mechanism    string          `json:"mechanism"`
	Requests     []RequestRecord `json:"requests,omitempty"`
	Broken       []RequestRecord `json:"broken,omitempty"`
	Error        string          `json:"error,omitempty"`
	TimeToCheck  int64           `json:"time_to_check"` // in milliseconds
	CheckVersion string          `json:"check_version"`
}

func (p *PageReport) Failed() bool {
	return p.Error != "" || len(p.Broken) > 0
}
