package featurestore

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/ftable"
	"github.com/featstore/featstore-go/join"
	"github.com/featstore/featstore-go/offline"
	"github.com/featstore/featstore-go/online"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

// GetHistoricalFeatures joins the referenced features onto the spine with
// point in time correctness: each spine row sees the newest value at or
// before its timestamp that is still inside the view's TTL window.
func (c *Client) GetHistoricalFeatures(ctx context.Context, spine join.Spine, refs []string) (*ftable.Table, error) {
	parsed, err := registry.ParseRefs(refs)
	if err != nil {
		return nil, err
	}
	return c.joins.Historical(ctx, spine, parsed)
}

func (c *Client) GetHistoricalFeaturesByService(ctx context.Context, spine join.Spine, service string) (*ftable.Table, error) {
	resolved, err := c.ResolveService(service)
	if err != nil {
		return nil, err
	}
	return c.joins.Historical(ctx, spine, featureRefs(resolved))
}

// GetOnlineFeatures returns the latest stored value per entity row for every
// reference, judged against the clock at call time: a key never written and
// a value that outlived its view's TTL both come back null. The result
// echoes the join key columns first, then one column per reference in
// request order, qualified as view:field only on name collision.
func (c *Client) GetOnlineFeatures(ctx context.Context, entityRows []map[string]interface{}, refs []string) (*ftable.Table, error) {
	parsed, err := registry.ParseRefs(refs)
	if err != nil {
		return nil, err
	}
	return c.getOnline(ctx, entityRows, parsed)
}

func (c *Client) GetOnlineFeaturesByService(ctx context.Context, entityRows []map[string]interface{}, service string) (*ftable.Table, error) {
	resolved, err := c.ResolveService(service)
	if err != nil {
		return nil, err
	}
	return c.getOnline(ctx, entityRows, featureRefs(resolved))
}

// onlineJob is one view's share of an online retrieval: which references it
// serves, where their output columns sit, and the canonical key per entity
// row. An empty rowKeys slot marks a row missing one of the view's join
// keys; it gets nulls instead of a lookup.
type onlineJob struct {
	view    *registry.FeatureView
	fields  []string
	columns []int
	lookup  *offline.KeySet
	rowKeys []string
}

func (c *Client) getOnline(ctx context.Context, entityRows []map[string]interface{}, refs []registry.FeatureRef) (*ftable.Table, error) {
	started := c.clock()
	defer func() {
		c.metrics.ObserveOnlineGetDuration(c.clock().Sub(started))
	}()

	jobs, err := c.planLookups(refs)
	if err != nil {
		return nil, err
	}

	echo := echoColumns(jobs)
	outputNames, err := join.OutputColumns(echo, refs)
	if err != nil {
		return nil, err
	}
	if err := buildLookupKeys(jobs, entityRows); err != nil {
		return nil, err
	}

	base := len(echo)
	rows := make([][]interface{}, len(entityRows))
	for i, entityRow := range entityRows {
		row := make([]interface{}, base+len(refs))
		for j, name := range echo {
			if v, ok := entityRow[name]; ok {
				row[j] = v
			}
		}
		rows[i] = row
	}

	now := c.clock()
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return c.lookupView(gctx, job, base, now, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	columns := append(append([]string(nil), echo...), outputNames...)
	out, err := ftable.New(columns...)
	if err != nil {
		return nil, errors.NewValidation(err.Error())
	}
	for _, row := range rows {
		if err := out.AppendRow(row...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// planLookups resolves references and groups them per view. Resolution
// failures surface here, before any store access.
func (c *Client) planLookups(refs []registry.FeatureRef) ([]*onlineJob, error) {
	jobs := map[string]*onlineJob{}
	var order []string
	var violations []string
	for i, ref := range refs {
		job, ok := jobs[ref.View]
		if !ok {
			view, err := c.registry.View(ref.View)
			if err != nil {
				return nil, err
			}
			if !view.Online {
				violations = append(violations, fmt.Sprintf("feature view %q is not online enabled", ref.View))
			}
			job = &onlineJob{view: view}
			jobs[ref.View] = job
			order = append(order, ref.View)
		}
		if _, ok := job.view.Field(ref.Field); !ok {
			return nil, errors.NewNotFound("field", ref.String())
		}
		job.fields = append(job.fields, ref.Field)
		job.columns = append(job.columns, i)
	}
	if len(violations) > 0 {
		return nil, errors.NewValidation(violations...)
	}
	out := make([]*onlineJob, len(order))
	for i, name := range order {
		out[i] = jobs[name]
	}
	return out, nil
}

// echoColumns is the union of the requested views' join key names, in first
// appearance order.
func echoColumns(jobs []*onlineJob) []string {
	var cols []string
	seen := map[string]bool{}
	for _, job := range jobs {
		for _, name := range job.view.JoinKeyNames() {
			if !seen[name] {
				seen[name] = true
				cols = append(cols, name)
			}
		}
	}
	return cols
}

// buildLookupKeys canonicalizes each entity row's key per view. Missing or
// nil key values leave the row unmatched; values of the wrong type are
// violations, aggregated across the request.
func buildLookupKeys(jobs []*onlineJob, entityRows []map[string]interface{}) error {
	var violations []string
	for _, job := range jobs {
		keys := job.view.JoinKeys()
		job.lookup = offline.NewKeySet(job.view.JoinKeyNames())
		job.rowKeys = make([]string, len(entityRows))
		for i, entityRow := range entityRows {
			tuple := make([]interface{}, len(keys))
			complete := true
			for ki, k := range keys {
				raw, ok := entityRow[k.Name]
				if !ok || raw == nil {
					complete = false
					continue
				}
				v, err := utils.CoerceValue(raw, k.Type)
				if err != nil {
					violations = append(violations,
						fmt.Sprintf("entity row %d: join key %q: %v", i, k.Name, err))
					complete = false
					continue
				}
				tuple[ki] = v
			}
			if complete {
				job.rowKeys[i] = job.lookup.Add(tuple...)
			}
		}
	}
	if len(violations) > 0 {
		return errors.NewValidation(violations...)
	}
	return nil
}

// lookupView fetches one view's records and writes the visible values into
// the output matrix. Jobs touch disjoint columns, so they run concurrently
// without locking.
func (c *Client) lookupView(ctx context.Context, job *onlineJob, base int, now time.Time, rows [][]interface{}) error {
	view := job.view
	var records map[string]online.Record
	if job.lookup.Len() > 0 {
		var err error
		records, err = c.online.Get(ctx, view, job.lookup.CanonicalKeys())
		if err != nil {
			c.metrics.IncError("online_get")
			return errors.Wrapf(err, "online lookup for view %s", view.Name)
		}
	}
	for i, canon := range job.rowKeys {
		if canon == "" {
			continue
		}
		rec, ok := records[canon]
		if !ok || !view.WithinWindow(now, rec.EventTime) {
			continue
		}
		for fi, field := range job.fields {
			rows[i][base+job.columns[fi]] = rec.Values[field]
		}
	}
	return nil
}
