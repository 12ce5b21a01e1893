package streams

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubtap/pkg/errors"
	"github.com/ajitpratap0/hubtap/pkg/hubspot"
)

// submissionsStream reads form submissions. There is no per-submission
// modification timestamp, so the stream is full table: every run walks every
// form's submissions from the beginning.
type submissionsStream struct{}

func (s *submissionsStream) Name() string        { return "submissions" }
func (s *submissionsStream) Replication() string { return ReplicationFullTable }
func (s *submissionsStream) BookmarkKey() string { return "" }

func (s *submissionsStream) Window(start, end time.Time) (time.Time, time.Time) {
	return start, end
}

func (s *submissionsStream) Pages(ctx context.Context, rt *Runtime, _, _ time.Time) (hubspot.Paginator, error) {
	guids, err := formGUIDs(ctx, rt.Client)
	if err != nil {
		return nil, err
	}
	return &submissionsPaginator{
		client: rt.Client,
		guids:  mergeGUIDs(rt.Discovered, guids),
		limit:  pageSize(rt, 50),
		logger: rt.Logger,
	}, nil
}

// mergeGUIDs prepends the form guids discovered on contact records to the
// guids listed by the forms endpoint, without duplicates. Contacts can
// reference forms the endpoint no longer lists.
func mergeGUIDs(d *Discovered, fromEndpoint []string) []string {
	if d == nil {
		return fromEndpoint
	}
	merged := d.FormGUIDs()
	for _, guid := range fromEndpoint {
		if !d.HasFormGUID(guid) {
			merged = append(merged, guid)
		}
	}
	return merged
}

func (s *submissionsStream) Records(_ context.Context, _ *Runtime, page *hubspot.Page) ([]Record, error) {
	records := make([]Record, 0, len(page.Items))
	for _, item := range page.Items {
		records = append(records, Record{Data: item})
	}
	return records, nil
}

// formGUIDs lists the guid of every form in the account.
func formGUIDs(ctx context.Context, client *hubspot.Client) ([]string, error) {
	pager := hubspot.NewArrayPaginator(client, "/forms/v2/forms", nil)
	var guids []string
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if page == nil {
			return guids, nil
		}
		for _, form := range page.Items {
			if guid, ok := form["guid"].(string); ok && guid != "" {
				guids = append(guids, guid)
			}
		}
	}
}

// submissionsPaginator chains the per-form submission endpoints into one
// page sequence. Forms whose submission history has been purged answer with
// a malformed body; those are skipped rather than failing the stream.
type submissionsPaginator struct {
	client *hubspot.Client
	guids  []string
	limit  int
	logger *zap.Logger

	index   int
	current hubspot.Paginator
	guid    string
	page    int
}

func (p *submissionsPaginator) Next(ctx context.Context) (*hubspot.Page, error) {
	for {
		if p.current == nil {
			if p.index >= len(p.guids) {
				return nil, nil
			}
			p.guid = p.guids[p.index]
			p.index++

			params := url.Values{}
			params.Set("limit", limitParam(p.limit))
			path := "/form-integrations/v1/submissions/forms/" + p.guid
			p.current = hubspot.NewCursorPaginator(p.client, path, params)
		}

		page, err := p.current.Next(ctx)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeData) || errors.IsType(err, errors.ErrorTypePagination) {
				p.logger.Warn("skipping form with unreadable submissions",
					zap.String("form_id", p.guid),
					zap.Error(err))
				p.current = nil
				continue
			}
			return nil, err
		}
		if page == nil {
			p.current = nil
			continue
		}
		if len(page.Items) == 0 {
			p.current = nil
			continue
		}

		for _, item := range page.Items {
			item["form_id"] = p.guid
		}
		p.page++
		page.Number = p.page
		return page, nil
	}
}
