package plugin

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"ocm.software/open-component-model/pluginhub/api/v1alpha1"
	"ocm.software/open-component-model/pluginhub/internal/store"
)

// ListOptions filter, order and page a plugin listing.
type ListOptions struct {
	// Keyword matches displayName or description, case-insensitively.
	Keyword string
	// Enabled, if set, keeps only plugins with that spec.enabled.
	Enabled *bool
	// Sort entries look like "creationTimestamp,desc". Only creationTimestamp is supported.
	Sort []string
	// Page is 1-based. Zero returns everything.
	Page int
	// Size is the page size. Zero returns everything.
	Size int
}

// ListResult is one page of plugins.
type ListResult struct {
	Page       int                `json:"page"`
	Size       int                `json:"size"`
	Total      int                `json:"total"`
	TotalPages int                `json:"totalPages"`
	Items      []*v1alpha1.Plugin `json:"items"`
}

// List returns the plugins matching opts.
func (s *Service) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	all, err := store.List[v1alpha1.Plugin](ctx, s.client)
	if err != nil {
		return nil, err
	}

	keyword := strings.ToLower(strings.TrimSpace(opts.Keyword))
	matched := make([]*v1alpha1.Plugin, 0, len(all))
	for _, p := range all {
		if keyword != "" && !containsFold(p.Spec.DisplayName, keyword) && !containsFold(p.Spec.Description, keyword) {
			continue
		}
		if opts.Enabled != nil && p.Spec.Enabled != *opts.Enabled {
			continue
		}
		matched = append(matched, p)
	}

	slices.SortStableFunc(matched, comparator(opts.Sort))
	return paginate(matched, opts.Page, opts.Size), nil
}

func containsFold(s, lowerKeyword string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), lowerKeyword)
}

// comparator orders by the requested creationTimestamp direction first, then by
// creationTimestamp descending and name ascending.
func comparator(sort []string) func(a, b *v1alpha1.Plugin) int {
	var requested func(a, b *v1alpha1.Plugin) int
	for _, entry := range sort {
		field, dir, _ := strings.Cut(entry, ",")
		if strings.TrimSpace(field) != "creationTimestamp" {
			continue
		}
		desc := strings.EqualFold(strings.TrimSpace(dir), "desc")
		requested = func(a, b *v1alpha1.Plugin) int {
			c := a.Metadata.CreationTimestamp.Compare(b.Metadata.CreationTimestamp)
			if desc {
				return -c
			}
			return c
		}
		break
	}

	return func(a, b *v1alpha1.Plugin) int {
		if requested != nil {
			if c := requested(a, b); c != 0 {
				return c
			}
		}
		if c := b.Metadata.CreationTimestamp.Compare(a.Metadata.CreationTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Metadata.Name, b.Metadata.Name)
	}
}

func paginate(items []*v1alpha1.Plugin, page, size int) *ListResult {
	total := len(items)
	if page <= 0 || size <= 0 {
		return &ListResult{Page: 0, Size: 0, Total: total, TotalPages: 1, Items: items}
	}
	start := min((page-1)*size, total)
	end := min(start+size, total)
	return &ListResult{
		Page:       page,
		Size:       size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
		Items:      items[start:end],
	}
}
