package streams

import (
	"context"
	"time"

	"github.com/ajitpratap0/hubtap/pkg/hubspot"
)

// contactsRewind is how far the contacts window start moves back from the
// stored bookmark. HubSpot is slow to surface tracking data for recently
// created contacts, so the last day is always re-read.
const contactsRewind = 24 * time.Hour

// searchStream reads a CRM object through the search API, ordered by its
// modification timestamp, with optional per-page enrichment.
type searchStream struct {
	name       string
	objectType string
	filterKey  string
	rewind     time.Duration
	limit      int

	// enrich mutates a page's items in place (associations, history)
	enrich func(ctx context.Context, rt *Runtime, items []map[string]interface{}) error

	// collect feeds cross-stream discovery from each record
	collect func(rt *Runtime, item map[string]interface{})
}

func (s *searchStream) Name() string        { return s.name }
func (s *searchStream) Replication() string { return ReplicationIncremental }
func (s *searchStream) BookmarkKey() string { return s.filterKey }

func (s *searchStream) Window(start, end time.Time) (time.Time, time.Time) {
	return start.Add(-s.rewind), end
}

func (s *searchStream) Pages(ctx context.Context, rt *Runtime, start, end time.Time) (hubspot.Paginator, error) {
	if s.collect != nil && rt.Discovered != nil {
		rt.Discovered.SetWindow(start, end)
	}

	properties, err := rt.Client.ObjectProperties(ctx, s.objectType)
	if err != nil {
		return nil, err
	}

	path := "/crm/v3/objects/" + s.objectType + "/search"
	return hubspot.NewSearchPaginator(rt.Client, path, s.filterKey, properties, start, end, pageSize(rt, s.limit), rt.Logger), nil
}

func (s *searchStream) Records(ctx context.Context, rt *Runtime, page *hubspot.Page) ([]Record, error) {
	if s.enrich != nil && len(page.Items) > 0 {
		if err := s.enrich(ctx, rt, page.Items); err != nil {
			return nil, err
		}
	}

	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		if s.collect != nil && rt != nil && rt.Discovered != nil {
			s.collect(rt, item)
		}
		records = append(records, Record{
			Data:             item,
			ReplicationValue: replicationValue(item, []string{"properties", s.filterKey}),
		})
	}
	return records, nil
}

// itemIDs collects the id field of each item in a page.
func itemIDs(items []map[string]interface{}) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// enrichContacts attaches company associations to each contact.
func enrichContacts(ctx context.Context, rt *Runtime, items []map[string]interface{}) error {
	ids := itemIDs(items)
	if len(ids) == 0 {
		return nil
	}

	companies, err := rt.Client.Associations(ctx, "contacts", "companies", ids, 100)
	if err != nil {
		return err
	}

	for _, item := range items {
		id, _ := item["id"].(string)
		item["associations"] = map[string]interface{}{
			"companies": map[string]interface{}{"results": orEmpty(companies[id])},
		}
	}
	return nil
}

// enrichDeals attaches contact and company associations plus dealstage
// history to each deal.
func enrichDeals(ctx context.Context, rt *Runtime, items []map[string]interface{}) error {
	ids := itemIDs(items)
	if len(ids) == 0 {
		return nil
	}

	contacts, err := rt.Client.Associations(ctx, "deals", "contacts", ids, 50)
	if err != nil {
		return err
	}
	companies, err := rt.Client.Associations(ctx, "deals", "companies", ids, 50)
	if err != nil {
		return err
	}
	history, err := rt.Client.PropertyHistory(ctx, "deals", ids, []string{"dealstage"}, 50)
	if err != nil {
		return err
	}

	for _, item := range items {
		id, _ := item["id"].(string)
		item["associations"] = map[string]interface{}{
			"contacts":  map[string]interface{}{"results": orEmpty(contacts[id])},
			"companies": map[string]interface{}{"results": orEmpty(companies[id])},
		}
		if h, ok := history[id]; ok {
			item["propertiesWithHistory"] = h
		} else {
			item["propertiesWithHistory"] = map[string]interface{}{}
		}
	}
	return nil
}

// orEmpty keeps association lists JSON-encodable as arrays, never null.
func orEmpty(refs []map[string]interface{}) []map[string]interface{} {
	if refs == nil {
		return []map[string]interface{}{}
	}
	return refs
}
