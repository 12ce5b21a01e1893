package streams

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/hubtap/pkg/hubspot"
)

// mandatoryCompanyProperties are always requested for companies so the core
// firmographic fields survive even when an account defines thousands of
// custom properties.
var mandatoryCompanyProperties = []string{
	"name",
	"country",
	"domain",
	"website",
	"numberofemployees",
	"industry",
	"hs_user_ids_of_all_owners",
	"owneremail",
	"ownername",
	"hubspot_owner_id",
	"hs_all_owner_ids",
	"industrynaics",
	"industrysic",
	"annualrevenue",
	"currency",
	"salesannual",
	"total_revenue",
	"type",
	"hs_merged_object_ids",
	"lifecyclestage",
	"hs_additional_domains",
	"recent_conversion_date",
	"recent_conversion_event_name",
	"first_conversion_date",
	"first_conversion_event_name",
}

// cursorStream reads a v3 list endpoint paged by paging.next.after. The
// replication value is read straight off each record.
type cursorStream struct {
	name            string
	path            string
	properties      []string
	replicationPath []string
	bookmarkKey     string
	limit           int
}

func (s *cursorStream) Name() string        { return s.name }
func (s *cursorStream) Replication() string { return ReplicationIncremental }
func (s *cursorStream) BookmarkKey() string { return s.bookmarkKey }

func (s *cursorStream) Window(start, end time.Time) (time.Time, time.Time) {
	return start, end
}

func (s *cursorStream) Pages(_ context.Context, rt *Runtime, _, _ time.Time) (hubspot.Paginator, error) {
	params := url.Values{}
	params.Set("limit", limitParam(pageSize(rt, s.limit)))
	for _, p := range s.properties {
		params.Add("properties", p)
	}
	return hubspot.NewCursorPaginator(rt.Client, s.path, params), nil
}

func (s *cursorStream) Records(_ context.Context, _ *Runtime, page *hubspot.Page) ([]Record, error) {
	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		records = append(records, Record{
			Data:             item,
			ReplicationValue: replicationValue(item, s.replicationPath),
		})
	}
	return records, nil
}

// offsetStream reads a legacy v1 endpoint paged by hasMore/offset. The
// replication value arrives as epoch milliseconds.
type offsetStream struct {
	name            string
	path            string
	itemsKey        string
	replicationPath []string
	bookmarkKey     string
	limit           int

	// windowed adds startTimestamp/endTimestamp query parameters
	windowed bool
}

func (s *offsetStream) Name() string        { return s.name }
func (s *offsetStream) Replication() string { return ReplicationIncremental }
func (s *offsetStream) BookmarkKey() string { return s.bookmarkKey }

func (s *offsetStream) Window(start, end time.Time) (time.Time, time.Time) {
	return start, end
}

func (s *offsetStream) Pages(_ context.Context, rt *Runtime, start, end time.Time) (hubspot.Paginator, error) {
	params := url.Values{}
	params.Set("limit", limitParam(pageSize(rt, s.limit)))
	if s.windowed {
		params.Set("startTimestamp", strconv.FormatInt(hubspot.ToMillis(start), 10))
		params.Set("endTimestamp", strconv.FormatInt(hubspot.ToMillis(end), 10))
	}
	return hubspot.NewOffsetPaginator(rt.Client, s.path, params, s.itemsKey), nil
}

func (s *offsetStream) Records(_ context.Context, _ *Runtime, page *hubspot.Page) ([]Record, error) {
	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		records = append(records, Record{
			Data:             item,
			ReplicationValue: replicationValue(item, s.replicationPath),
		})
	}
	return records, nil
}

// formsStream reads the legacy forms endpoint, which answers with a bare
// array instead of a paged envelope.
type formsStream struct{}

func (s *formsStream) Name() string        { return "forms" }
func (s *formsStream) Replication() string { return ReplicationIncremental }
func (s *formsStream) BookmarkKey() string { return "updatedAt" }

func (s *formsStream) Window(start, end time.Time) (time.Time, time.Time) {
	return start, end
}

func (s *formsStream) Pages(_ context.Context, rt *Runtime, _, _ time.Time) (hubspot.Paginator, error) {
	return hubspot.NewArrayPaginator(rt.Client, "/forms/v2/forms", nil), nil
}

func (s *formsStream) Records(_ context.Context, _ *Runtime, page *hubspot.Page) ([]Record, error) {
	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		records = append(records, Record{
			Data:             item,
			ReplicationValue: replicationValue(item, []string{"updatedAt"}),
		})
	}
	return records, nil
}
