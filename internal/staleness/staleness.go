// Package staleness classifies how fresh each target language's translation
// of a source document is, by diffing the live source against the snapshot
// frozen in the owning TMD at translation time.
package staleness

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"phrasebridge/internal/contentstore"
	"phrasebridge/internal/contenttree"
	"phrasebridge/internal/domain"
	"phrasebridge/internal/lock"
	"phrasebridge/internal/pathkey"
)

// Freshness is the per-target classification.
type Freshness string

const (
	// Untranslatable: the document type is not configured for translation.
	Untranslatable Freshness = "UNTRANSLATABLE"
	// Untranslated: no completed translation exists for the target.
	Untranslated Freshness = "UNTRANSLATED"
	// Ongoing: an in-flight, non-completed translation covers the target.
	Ongoing Freshness = "ONGOING"
	// Fresh: completed, and no relevant source change since.
	Fresh Freshness = "FRESH"
	// Stale: completed, but the source changed at paths that were translated.
	Stale Freshness = "STALE"
)

// TargetReport is the classification of one target language.
type TargetReport struct {
	Lang           string    `json:"lang"`
	Freshness      Freshness `json:"freshness"`
	TranslationKey string    `json:"translationKey,omitempty"`
	// ChangedPaths lists the outermost changed source paths that intersect
	// the translated path set; only set when Stale.
	ChangedPaths []string `json:"changedPaths,omitempty"`
}

// DocReport groups target reports per source document.
type DocReport struct {
	DocID   string         `json:"docId"`
	Targets []TargetReport `json:"targets"`
}

// Detector computes staleness reports.
type Detector struct {
	store             contentstore.Store
	translatableTypes map[string]struct{}
	logger            zerolog.Logger
}

// Options configures a Detector. TranslatableTypes lists the document types
// configured for translation; empty means every type is translatable.
type Options struct {
	Store             contentstore.Store
	TranslatableTypes []string
	Logger            zerolog.Logger
}

func New(opts Options) (*Detector, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("staleness: store is required")
	}
	var types map[string]struct{}
	if len(opts.TranslatableTypes) > 0 {
		types = make(map[string]struct{}, len(opts.TranslatableTypes))
		for _, t := range opts.TranslatableTypes {
			types[t] = struct{}{}
		}
	}
	return &Detector{store: opts.Store, translatableTypes: types, logger: opts.Logger}, nil
}

// Classify reports the freshness of every (document, target language) pair.
// The draft state drives the comparison when both draft and published exist.
func (d *Detector) Classify(ctx context.Context, docIDs, langs []string) ([]DocReport, error) {
	reports := make([]DocReport, 0, len(docIDs))
	for _, id := range docIDs {
		report, err := d.classifyDoc(ctx, id, langs)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (d *Detector) classifyDoc(ctx context.Context, docID string, langs []string) (DocReport, error) {
	published := pathkey.UndraftID(docID)
	report := DocReport{DocID: published}

	docs, err := d.store.GetMany(ctx, []string{pathkey.DraftID(published), published})
	if err != nil {
		return report, err
	}
	doc, ok := docs[pathkey.DraftID(published)]
	if !ok {
		if doc, ok = docs[published]; !ok {
			return report, fmt.Errorf("document %s: %w", published, domain.ErrNotFound)
		}
	}

	if !d.translatable(contentstore.DocType(doc)) {
		for _, lang := range langs {
			report.Targets = append(report.Targets, TargetReport{Lang: lang, Freshness: Untranslatable})
		}
		return report, nil
	}

	tmds, err := d.tmdsForSource(ctx, published)
	if err != nil {
		return report, err
	}
	entries := domain.MetadataFromDoc(doc)

	for _, lang := range langs {
		report.Targets = append(report.Targets, d.classifyTarget(doc, entries, tmds, lang))
	}
	return report, nil
}

func (d *Detector) classifyTarget(doc contentstore.Document, entries []domain.TranslationMetadata, tmds []*domain.TMD, lang string) TargetReport {
	for _, entry := range entries {
		if entry.Status.Blocking() && containsLang(entry.TargetLangs, lang) {
			return TargetReport{Lang: lang, Freshness: Ongoing, TranslationKey: entry.Key}
		}
	}

	tmd := latestCompleted(entries, tmds, lang)
	if tmd == nil {
		return TargetReport{Lang: lang, Freshness: Untranslated}
	}

	changed := contenttree.Diff(tmd.Snapshot, doc)
	translated := make([]pathkey.Path, 0, len(tmd.Paths))
	for _, s := range tmd.Paths {
		translated = append(translated, pathkey.StringToPath(s))
	}
	// Only changes intersecting the originally translated path set make the
	// target stale; unrelated edits keep it fresh.
	var relevant []string
	for _, path := range changed {
		if lock.AnyIntersects(translated, []pathkey.Path{path}) {
			relevant = append(relevant, pathkey.PathToString(path))
		}
	}
	if len(relevant) == 0 {
		return TargetReport{Lang: lang, Freshness: Fresh, TranslationKey: tmd.TranslationKey}
	}
	sort.Strings(relevant)
	return TargetReport{
		Lang:           lang,
		Freshness:      Stale,
		TranslationKey: tmd.TranslationKey,
		ChangedPaths:   relevant,
	}
}

// latestCompleted picks the newest TMD for lang whose main-document entry
// reached COMPLETED.
func latestCompleted(entries []domain.TranslationMetadata, tmds []*domain.TMD, lang string) *domain.TMD {
	completed := map[string]struct{}{}
	for _, entry := range entries {
		if entry.Status == domain.StatusCompleted {
			completed[entry.Key] = struct{}{}
		}
	}
	var best *domain.TMD
	for _, tmd := range tmds {
		if _, ok := completed[tmd.TranslationKey]; !ok {
			continue
		}
		if _, ok := tmd.Target(lang); !ok {
			continue
		}
		if best == nil || tmd.CreatedAt.After(best.CreatedAt) {
			best = tmd
		}
	}
	return best
}

func (d *Detector) tmdsForSource(ctx context.Context, publishedID string) ([]*domain.TMD, error) {
	var tmds []*domain.TMD
	for _, sourceID := range []string{publishedID, pathkey.DraftID(publishedID)} {
		docs, err := d.store.Query(ctx, contentstore.QueryTMDsBySource, map[string]any{"sourceId": sourceID})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			tmd, err := domain.TMDFromDoc(doc)
			if err != nil {
				d.logger.Warn().Err(err).Str("doc", contentstore.DocID(doc)).Msg("skipping malformed tracking document")
				continue
			}
			tmds = append(tmds, tmd)
		}
	}
	return tmds, nil
}

func (d *Detector) translatable(docType string) bool {
	if d.translatableTypes == nil {
		return true
	}
	_, ok := d.translatableTypes[docType]
	return ok
}

func containsLang(langs []string, lang string) bool {
	for _, l := range langs {
		if l == lang {
			return true
		}
	}
	return false
}
