package streams

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/hubtap/pkg/errors"
	"github.com/ajitpratap0/hubtap/pkg/hubspot"
)

const eventsPath = "/events/v3/events"

// collectContactActivity feeds cross-stream discovery from one contact
// record: form guids parsed out of hs_calculated_form_submissions, and the
// contact id when the contact visited a page or submitted a form inside the
// sync window.
func collectContactActivity(rt *Runtime, item map[string]interface{}) {
	d := rt.Discovered

	if raw, ok := getValue(item, []string{"properties", "hs_calculated_form_submissions"}).(string); ok && raw != "" {
		// Semicolon-separated guid:timestamp pairs.
		for _, pair := range strings.Split(raw, ";") {
			guid, _, _ := strings.Cut(pair, ":")
			d.AddFormGUID(guid)
		}
	}

	id, ok := item["id"].(string)
	if !ok || id == "" {
		return
	}
	start, end := d.Window()
	for _, key := range []string{"hs_analytics_last_timestamp", "recent_conversion_date"} {
		if ts, ok := hubspot.ParseTimestamp(getValue(item, []string{"properties", key})); ok {
			if ts.After(start) && !ts.After(end) {
				d.AddContactID(id)
				return
			}
		}
	}
}

// contactsEventsStream reads behavioral events per contact discovered during
// the contacts sync. The endpoint needs Marketing Hub Enterprise; accounts
// without it answer 403 and the stream syncs nothing.
type contactsEventsStream struct{}

func (s *contactsEventsStream) Name() string        { return "contacts_events" }
func (s *contactsEventsStream) Replication() string { return ReplicationIncremental }
func (s *contactsEventsStream) BookmarkKey() string { return "lastSynced" }

func (s *contactsEventsStream) Window(start, end time.Time) (time.Time, time.Time) {
	return start, end
}

func (s *contactsEventsStream) Pages(ctx context.Context, rt *Runtime, start, end time.Time) (hubspot.Paginator, error) {
	var ids []string
	if rt.Discovered != nil {
		ids = rt.Discovered.ContactIDs()
		if ws, we := rt.Discovered.Window(); !we.IsZero() {
			start, end = ws, we
		}
	}
	if len(ids) == 0 {
		return &contactsEventsPaginator{}, nil
	}

	if err := probeEvents(ctx, rt.Client); err != nil {
		if errors.IsType(err, errors.ErrorTypeCapability) {
			rt.Logger.Info("behavioral events are not available for this account, skipping contact events")
			return &contactsEventsPaginator{}, nil
		}
		return nil, err
	}

	return &contactsEventsPaginator{
		client: rt.Client,
		ids:    ids,
		limit:  pageSize(rt, 100),
		start:  start,
		end:    end,
	}, nil
}

func (s *contactsEventsStream) Records(_ context.Context, rt *Runtime, page *hubspot.Page) ([]Record, error) {
	// The bookmark is the sync horizon, not per-event timestamps: events
	// replay per contact, so occurrence order crosses contacts.
	var horizon time.Time
	if rt != nil && rt.Discovered != nil {
		_, horizon = rt.Discovered.Window()
	}

	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		value := horizon
		if value.IsZero() {
			value = replicationValue(item, []string{"occurredAt"})
		}
		records = append(records, Record{
			Data:             item,
			ReplicationValue: value,
		})
	}
	return records, nil
}

// probeEvents checks whether the account can read behavioral events. A 403
// means the account tier lacks the feature.
func probeEvents(ctx context.Context, client *hubspot.Client) error {
	params := url.Values{}
	params.Set("limit", "1")
	if err := client.Get(ctx, eventsPath, params, nil); err != nil {
		if errors.IsType(err, errors.ErrorTypeAuthentication) {
			return errors.Wrap(err, errors.ErrorTypeCapability, "behavioral events are not enabled")
		}
		return err
	}
	return nil
}

// contactsEventsPaginator chains per-contact event queries into one page
// sequence, each query cursor-paged over the window.
type contactsEventsPaginator struct {
	client *hubspot.Client
	ids    []string
	limit  int
	start  time.Time
	end    time.Time

	index   int
	current hubspot.Paginator
	page    int
}

func (p *contactsEventsPaginator) Next(ctx context.Context) (*hubspot.Page, error) {
	for {
		if p.current == nil {
			if p.index >= len(p.ids) {
				return nil, nil
			}
			id := p.ids[p.index]
			p.index++

			params := url.Values{}
			params.Set("limit", limitParam(p.limit))
			params.Set("objectType", "contact")
			params.Set("objectId", id)
			params.Set("occurredAfter", p.start.UTC().Format(time.RFC3339))
			params.Set("occurredBefore", p.end.UTC().Format(time.RFC3339))
			p.current = hubspot.NewCursorPaginator(p.client, eventsPath, params)
		}

		page, err := p.current.Next(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil || len(page.Items) == 0 {
			p.current = nil
			continue
		}

		p.page++
		page.Number = p.page
		return page, nil
	}
}
