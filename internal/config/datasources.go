package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	domainerrors "github.com/bibmerge/bibmerge/internal/errors"
	"github.com/bibmerge/bibmerge/internal/validation"
)

// Component part handling modes. They only affect indexing.
const (
	ComponentPartsAsIs             = "as_is"
	ComponentPartsMergeAll         = "merge_all"
	ComponentPartsMergeNonArticles = "merge_non_articles"
)

// DataSource holds the settings of one contributing source.
type DataSource struct {
	ID             string        `yaml:"-"`
	Institution    string        `yaml:"institution" validate:"required"`
	Format         string        `yaml:"format" validate:"required,oneof=json ese"`
	IDPrefix       string        `yaml:"idPrefix" validate:"omitempty,idprefix"`
	Dedup          bool          `yaml:"dedup"`
	ComponentParts string        `yaml:"componentParts" validate:"omitempty,oneof=as_is merge_all merge_non_articles"`
	Normalization  Normalization `yaml:"normalization"`
}

// Normalization lists the rewrites applied to imported data before it is
// stored as the record's normalized data.
type Normalization struct {
	TrimSpace bool          `yaml:"trimSpace"`
	Replace   []Replacement `yaml:"replace" validate:"dive"`
}

// Replacement is a literal rewrite.
type Replacement struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to"`
}

// Apply runs the configured rewrites over data.
func (n Normalization) Apply(data string) string {
	for _, r := range n.Replace {
		data = strings.ReplaceAll(data, r.From, r.To)
	}
	if n.TrimSpace {
		data = strings.TrimSpace(data)
	}
	return data
}

// IsZero reports whether no normalization is configured.
func (n Normalization) IsZero() bool {
	return !n.TrimSpace && len(n.Replace) == 0
}

type dataSourcesFile struct {
	Sources map[string]*DataSource `yaml:"sources"`
}

// DataSources is the validated set of source settings.
type DataSources struct {
	sources map[string]*DataSource
}

// LoadDataSources reads the settings file at path. A missing file yields an
// empty set; every lookup then fails with a configuration error.
func LoadDataSources(path string) (*DataSources, error) {
	f, err := os.Open(path) //#nosec G304 -- settings path comes from configuration
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &DataSources{sources: map[string]*DataSource{}}, nil
		}
		return nil, domainerrors.Wrapf(err, domainerrors.CodeConfig, "open datasources file %s", path)
	}
	defer f.Close()

	return ParseDataSources(f)
}

// ParseDataSources decodes and validates settings. Unknown keys are rejected
// so typos do not silently disable a setting.
func ParseDataSources(r io.Reader) (*DataSources, error) {
	var doc dataSourcesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, domainerrors.Wrap(err, domainerrors.CodeConfig, "parse datasources")
	}

	v := validation.New()
	sources := make(map[string]*DataSource, len(doc.Sources))
	for id, ds := range doc.Sources {
		if ds == nil {
			return nil, domainerrors.Configf("source %q has no settings", id)
		}
		if strings.TrimSpace(id) == "" {
			return nil, domainerrors.Config("source id cannot be empty")
		}
		if err := v.Validate(ds); err != nil {
			return nil, domainerrors.Configf("source %q: %v", id, describeValidation(err)).WithCause(err)
		}
		ds.ID = id
		if ds.IDPrefix == "" {
			ds.IDPrefix = id
		}
		if ds.ComponentParts == "" {
			ds.ComponentParts = ComponentPartsAsIs
		}
		sources[id] = ds
	}

	return &DataSources{sources: sources}, nil
}

// NewDataSources builds a set from already-validated settings, applying the
// same defaults as ParseDataSources.
func NewDataSources(sources ...*DataSource) *DataSources {
	m := make(map[string]*DataSource, len(sources))
	for _, ds := range sources {
		if ds.IDPrefix == "" {
			ds.IDPrefix = ds.ID
		}
		if ds.ComponentParts == "" {
			ds.ComponentParts = ComponentPartsAsIs
		}
		m[ds.ID] = ds
	}
	return &DataSources{sources: m}
}

func describeValidation(err error) string {
	fields := validation.FieldErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for field, msg := range fields {
		parts = append(parts, field+" "+msg)
	}
	slices.Sort(parts)
	return strings.Join(parts, "; ")
}

// Get returns the settings for a source or a configuration error.
func (d *DataSources) Get(sourceID string) (*DataSource, error) {
	ds, ok := d.sources[sourceID]
	if !ok {
		return nil, domainerrors.Configf("no settings found for data source %q", sourceID)
	}
	return ds, nil
}

// IDs returns every configured source id in sorted order.
func (d *DataSources) IDs() []string {
	ids := make([]string, 0, len(d.sources))
	for id := range d.sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// WithDedup returns the ids of sources with deduplication enabled, sorted.
func (d *DataSources) WithDedup() []string {
	var ids []string
	for _, id := range d.IDs() {
		if d.sources[id].Dedup {
			ids = append(ids, id)
		}
	}
	return ids
}

// Institution returns the institution name of a source, or the source id
// when the source is unknown.
func (d *DataSources) Institution(sourceID string) string {
	if ds, ok := d.sources[sourceID]; ok {
		return ds.Institution
	}
	return sourceID
}

// String implements fmt.Stringer for log output.
func (d *DataSources) String() string {
	return fmt.Sprintf("%d sources", len(d.sources))
}
