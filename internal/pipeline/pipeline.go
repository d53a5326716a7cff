// Package pipeline exposes the operations a thin external surface calls:
// data-source management, ingestion, promotion, report definition and
// evaluation. Every operation returns the structured result envelope.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ledgerline/recona/internal/config"
	"github.com/ledgerline/recona/internal/docstore"
	"github.com/ledgerline/recona/internal/formula"
	"github.com/ledgerline/recona/internal/ingest"
	"github.com/ledgerline/recona/internal/promote"
	"github.com/ledgerline/recona/internal/report"
	"github.com/ledgerline/recona/internal/types"
)

// Service carries the document-store handle and configuration snapshot for
// one job. No module-level mutable state: construct one per caller.
type Service struct {
	store docstore.Store
	cfg   *config.Config
}

// New creates a Service.
func New(store docstore.Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg}
}

// toDoc converts a typed value to a stored document via its JSON form.
func toDoc(v interface{}) (docstore.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := make(docstore.Document)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// fromDoc converts a stored document back to a typed value.
func fromDoc(doc docstore.Document, out interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// statusFor maps storage errors onto envelope statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return types.StatusNotFound
	case errors.Is(err, docstore.ErrUnavailable):
		return types.StatusUnavailable
	case errors.Is(err, docstore.ErrDuplicate):
		return types.StatusConflict
	default:
		return types.StatusError
	}
}

// CreateDataSource persists a DataSource and creates its companion
// processed and backup collections.
func (s *Service) CreateDataSource(ctx context.Context, name string, uniqueIDs []string, allowNullIdentity bool) types.Result {
	norm := types.NormalizeName(name)
	if norm == "" {
		return types.Errf(types.StatusBadRequest, "data source name is required", nil)
	}
	if err := s.store.EnsureCollection(ctx, types.CollDataSources); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	if _, err := s.store.FindOne(ctx, types.CollDataSources, docstore.Where("name", norm)); err == nil {
		return types.Errf(types.StatusConflict, fmt.Sprintf("data source %s already exists", norm), nil)
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return types.Errf(statusFor(err), err.Error(), nil)
	}

	now := time.Now().UTC()
	ds := types.DataSource{
		Name:              norm,
		UniqueIDs:         uniqueIDs,
		AllowNullIdentity: allowNullIdentity,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	doc, err := toDoc(ds)
	if err != nil {
		return types.Errf(types.StatusError, err.Error(), nil)
	}
	if _, err := s.store.InsertMany(ctx, types.CollDataSources, []docstore.Document{doc}, docstore.InsertOptions{}); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}

	for _, coll := range []string{ds.RawCollection(), ds.ProcessedCollection(), ds.BackupCollection()} {
		if err := s.store.EnsureCollection(ctx, coll); err != nil {
			return types.Errf(statusFor(err), err.Error(), nil)
		}
	}
	if err := s.store.EnsureIndex(ctx, ds.ProcessedCollection(), types.FieldUniqueID, true); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	return types.OK(fmt.Sprintf("data source %s created", norm), ds)
}

// SetSelectedFields persists the field projection for a source.
func (s *Service) SetSelectedFields(ctx context.Context, name string, fields []string) types.Result {
	norm := types.NormalizeName(name)
	if len(fields) == 0 {
		return types.Errf(types.StatusBadRequest, "fields list is required", nil)
	}
	if _, err := s.loadDataSource(ctx, norm); err != nil {
		return types.Errf(statusFor(err), err.Error(), map[string]string{"name": norm})
	}
	if err := s.store.EnsureCollection(ctx, types.CollFieldMappings); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	set := docstore.Document{
		"name":            norm,
		"selected_fields": fields,
		types.FieldUpdatedAt: time.Now().UTC(),
	}
	if _, err := s.store.UpsertOne(ctx, types.CollFieldMappings, docstore.Where("name", norm), set); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	return types.OK(fmt.Sprintf("selected fields for %s updated", norm), fields)
}

// loadDataSource fetches one DataSource with its selected fields resolved.
func (s *Service) loadDataSource(ctx context.Context, name string) (*types.DataSource, error) {
	doc, err := s.store.FindOne(ctx, types.CollDataSources, docstore.Where("name", types.NormalizeName(name)))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: data source %s", docstore.ErrNotFound, name)
		}
		return nil, err
	}
	var ds types.DataSource
	if err := fromDoc(doc, &ds); err != nil {
		return nil, err
	}
	if err := s.store.EnsureCollection(ctx, types.CollFieldMappings); err != nil {
		return nil, err
	}
	mapping, err := s.store.FindOne(ctx, types.CollFieldMappings, docstore.Where("name", ds.Name))
	if err == nil {
		var m struct {
			SelectedFields []string `json:"selected_fields"`
		}
		if err := fromDoc(mapping, &m); err == nil {
			ds.SelectedFields = m.SelectedFields
		}
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}
	return &ds, nil
}

// ListDataSources returns all configured sources with projections resolved.
func (s *Service) ListDataSources(ctx context.Context) types.Result {
	if err := s.store.EnsureCollection(ctx, types.CollDataSources); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	docs, err := s.store.FindAll(ctx, types.CollDataSources, docstore.Filter{}, docstore.FindOptions{})
	if err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	sources := make([]*types.DataSource, 0, len(docs))
	for _, doc := range docs {
		var ds types.DataSource
		if err := fromDoc(doc, &ds); err != nil {
			continue
		}
		if full, err := s.loadDataSource(ctx, ds.Name); err == nil {
			sources = append(sources, full)
		}
	}
	return types.OK(fmt.Sprintf("%d data sources", len(sources)), sources)
}

// IngestFile streams one tabular file into a source's raw collection.
func (s *Service) IngestFile(ctx context.Context, sourceName, path string) types.Result {
	ds, err := s.loadDataSource(ctx, sourceName)
	if err != nil {
		return types.Errf(statusFor(err), err.Error(), map[string]string{"name": sourceName})
	}
	counters, err := ingest.New(s.store, s.cfg).IngestFile(ctx, ds, path)
	if err != nil {
		return types.Errf(statusFor(err), err.Error(), counters)
	}
	return types.OK(fmt.Sprintf("%d rows ingested into %s", counters.RowsInserted, ds.RawCollection()), counters)
}

// Promote promotes one source, or every source when name is empty. Failed
// collections are reported alongside the successes, never hidden.
func (s *Service) Promote(ctx context.Context, name string) types.Result {
	var sources []*types.DataSource
	if name != "" {
		ds, err := s.loadDataSource(ctx, name)
		if err != nil {
			return types.Errf(statusFor(err), err.Error(), map[string]string{"name": name})
		}
		sources = []*types.DataSource{ds}
	} else {
		res := s.ListDataSources(ctx)
		if res.Status != types.StatusOK {
			return res
		}
		sources = res.Data.([]*types.DataSource)
	}

	promoter := promote.New(s.store, s.cfg)
	perCollection := make(map[string]types.PromoteCounters, len(sources))
	failures := make(map[string]string)
	for _, ds := range sources {
		counters, err := promoter.PromoteSource(ctx, ds)
		perCollection[ds.Name] = counters
		if err != nil {
			failures[ds.Name] = err.Error()
			if ctx.Err() != nil {
				break
			}
		}
	}
	data := map[string]interface{}{"collections": perCollection}
	if len(failures) > 0 {
		data["failures"] = failures
		return types.Errf(types.StatusError, fmt.Sprintf("%d of %d collections failed", len(failures), len(sources)), data)
	}
	return types.OK(fmt.Sprintf("promoted %d collections", len(sources)), data)
}

// DefineReport validates and persists a FormulaDocument, one per report.
func (s *Service) DefineReport(ctx context.Context, doc *types.FormulaDocument) types.Result {
	if err := formula.ValidateDocument(doc); err != nil {
		return types.Errf(types.StatusBadRequest, err.Error(), nil)
	}
	doc.ReportName = types.NormalizeName(doc.ReportName)
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := s.store.EnsureCollection(ctx, types.CollFormulas); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	stored, err := toDoc(doc)
	if err != nil {
		return types.Errf(types.StatusError, err.Error(), nil)
	}
	if _, err := s.store.UpsertOne(ctx, types.CollFormulas, docstore.Where("report_name", doc.ReportName), stored); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	return types.OK(fmt.Sprintf("report %s defined", doc.ReportName), doc)
}

// GetReport returns one report specification.
func (s *Service) GetReport(ctx context.Context, name string) types.Result {
	doc, err := s.loadReport(ctx, name)
	if err != nil {
		return types.Errf(statusFor(err), err.Error(), map[string]string{"report_name": name})
	}
	return types.OK(doc.ReportName, doc)
}

// ListReports returns every defined report.
func (s *Service) ListReports(ctx context.Context) types.Result {
	if err := s.store.EnsureCollection(ctx, types.CollFormulas); err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	stored, err := s.store.FindAll(ctx, types.CollFormulas, docstore.Filter{}, docstore.FindOptions{})
	if err != nil {
		return types.Errf(statusFor(err), err.Error(), nil)
	}
	reports := make([]*types.FormulaDocument, 0, len(stored))
	for _, d := range stored {
		var doc types.FormulaDocument
		if err := fromDoc(d, &doc); err != nil {
			return types.Errf(types.StatusError, err.Error(), nil)
		}
		reports = append(reports, &doc)
	}
	return types.OK(fmt.Sprintf("%d reports", len(reports)), reports)
}

func (s *Service) loadReport(ctx context.Context, name string) (*types.FormulaDocument, error) {
	if err := s.store.EnsureCollection(ctx, types.CollFormulas); err != nil {
		return nil, err
	}
	stored, err := s.store.FindOne(ctx, types.CollFormulas, docstore.Where("report_name", types.NormalizeName(name)))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: report %s", docstore.ErrNotFound, name)
		}
		return nil, err
	}
	var doc types.FormulaDocument
	if err := fromDoc(stored, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// EvaluateReport evaluates one report, or every defined report when name is
// empty. Returns per-report counters.
func (s *Service) EvaluateReport(ctx context.Context, name string) types.Result {
	var reports []*types.FormulaDocument
	if name != "" {
		doc, err := s.loadReport(ctx, name)
		if err != nil {
			return types.Errf(statusFor(err), err.Error(), map[string]string{"report_name": name})
		}
		reports = []*types.FormulaDocument{doc}
	} else {
		if err := s.store.EnsureCollection(ctx, types.CollFormulas); err != nil {
			return types.Errf(statusFor(err), err.Error(), nil)
		}
		docs, err := s.store.FindAll(ctx, types.CollFormulas, docstore.Filter{}, docstore.FindOptions{})
		if err != nil {
			return types.Errf(statusFor(err), err.Error(), nil)
		}
		for _, stored := range docs {
			var doc types.FormulaDocument
			if err := fromDoc(stored, &doc); err == nil {
				reports = append(reports, &doc)
			}
		}
	}

	merger := report.New(s.store, s.cfg)
	perReport := make(map[string]types.EvaluateCounters, len(reports))
	failures := make(map[string]string)
	for _, doc := range reports {
		counters, err := merger.EvaluateReport(ctx, doc)
		perReport[doc.ReportName] = counters
		if err != nil {
			failures[doc.ReportName] = err.Error()
			if ctx.Err() != nil {
				break
			}
		}
	}
	data := map[string]interface{}{"reports": perReport}
	if len(failures) > 0 {
		data["failures"] = failures
		return types.Errf(types.StatusError, fmt.Sprintf("%d of %d reports failed", len(failures), len(reports)), data)
	}
	return types.OK(fmt.Sprintf("evaluated %d reports", len(reports)), data)
}
