package collection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jmgilman/go/errors"

	"github.com/guarzo/apicache/common/model"
	"github.com/guarzo/apicache/modules/client"
)

// CollectionService walks a paginated JSON array endpoint through the request
// client, dropping items whose id was already seen.
type CollectionService interface {
	FetchAll(ctx context.Context, endpoint string) ([]model.Item, error)
	AggregateItems(base, addition []model.Item) []model.Item
}

type collectionService struct {
	client   client.Requester
	maxPages int
	useCache bool
}

// DefaultMaxPages caps FetchAll when maxPages is not positive.
const DefaultMaxPages = 100

// NewCollectionService constructs a collectionService. Pages are requested
// with UseCache set to useCache.
func NewCollectionService(c client.Requester, maxPages int, useCache bool) CollectionService {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &collectionService{
		client:   c,
		maxPages: maxPages,
		useCache: useCache,
	}
}

// FetchAll requests endpoint?page=1, page=2, ... until an empty page or maxPages.
// A failure on the first page is returned; a failure on a later page ends the
// walk with what was collected so far.
func (svc *collectionService) FetchAll(ctx context.Context, endpoint string) ([]model.Item, error) {
	var aggregated []model.Item
	seen := make(map[string]bool)

	for page := 1; page <= svc.maxPages; page++ {
		pageEndpoint, err := withPage(endpoint, page)
		if err != nil {
			return nil, err
		}
		data, err := svc.client.Request(ctx, http.MethodGet, pageEndpoint, client.RequestOptions{UseCache: svc.useCache})
		if err != nil {
			if page == 1 {
				return nil, err
			}
			break
		}

		var raws []json.RawMessage
		if err := model.JSONUnmarshal(data, &raws); err != nil {
			if page == 1 {
				return nil, errors.Wrapf(err, errors.CodeInvalidInput, "page %d of %s is not a JSON array", page, endpoint)
			}
			break
		}
		if len(raws) == 0 {
			break
		}
		aggregated = svc.AggregateItems(aggregated, collect(raws, seen))
	}

	return aggregated, nil
}

// AggregateItems merges two slices of Item
func (svc *collectionService) AggregateItems(base, addition []model.Item) []model.Item {
	if base == nil {
		return addition
	}
	if addition == nil {
		return base
	}
	return append(base, addition...)
}

// collect converts raw elements to items, skipping ids already in seen.
func collect(raws []json.RawMessage, seen map[string]bool) []model.Item {
	items := make([]model.Item, 0, len(raws))
	for _, raw := range raws {
		id := itemID(raw)
		if id != "" {
			if seen[id] {
				// skip duplicates
				continue
			}
			seen[id] = true
		}
		items = append(items, model.Item{ID: id, Raw: raw})
	}
	return items
}

func itemID(raw json.RawMessage) string {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe.ID) == 0 || string(probe.ID) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(probe.ID, &s); err == nil {
		return s
	}
	return string(probe.ID)
}

func withPage(endpoint string, page int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeInvalidInput, "invalid endpoint %q", endpoint)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
