package domcheck

import (
	"fmt"
	"os"
	"sort"

	"github.com/IliaW/portal-checker/internal/model"
	jsoniter "github.com/json-iterator/go"
)

// SiteParams describes one portal section: where its URLs are listed and which
// elements every page of it must contain.
type SiteParams struct {
	URLs    string   `json:"urls"`
	IDs     []string `json:"ids"`
	Classes []string `json:"classes"`
	XPaths  []string `json:"xpaths,omitempty"`
	Group   string   `json:"group,omitempty"`
}

func (p *SiteParams) Elements() []model.Locator {
	elements := make([]model.Locator, 0, len(p.IDs)+len(p.Classes)+len(p.XPaths))
	for _, id := range p.IDs {
		elements = append(elements, model.ID(id))
	}
	for _, class := range p.Classes {
		elements = append(elements, model.Locator{By: model.ByClassName, Value: class})
	}
	for _, xp := range p.XPaths {
		elements = append(elements, model.XPath(xp))
	}

	return elements
}

type Params map[string]*SiteParams

func LoadParams(file string) (Params, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read params: %w", err)
	}
	var params Params
	if err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to parse params %s: %w", file, err)
	}
	for site, p := range params {
		if p == nil || p.URLs == "" {
			return nil, fmt.Errorf("site %q has no url list", site)
		}
	}

	return params, nil
}

// Sites returns the site names in sorted order, restricted to group when it is set.
func (p Params) Sites(group string) []string {
	sites := make([]string, 0, len(p))
	for site, sp := range p {
		if group != "" && sp.Group != group {
			continue
		}
		sites = append(sites, site)
	}
	sort.Strings(sites)

	return sites
}
