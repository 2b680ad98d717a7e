package registry

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/featstore/featstore-go/constants"
	"github.com/featstore/featstore-go/errors"
)

// yamlDuration reads "3650d", "36h", "90s", or a bare integer of seconds.
// The "d" suffix exists because view TTLs are usually counted in days.
type yamlDuration time.Duration

func (d *yamlDuration) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(node.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return errors.Newf("invalid duration %q", s)
		}
		*d = yamlDuration(time.Duration(days * 24 * float64(time.Hour)))
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = yamlDuration(time.Duration(n) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return errors.Newf("invalid duration %q", s)
	}
	*d = yamlDuration(dur)
	return nil
}

type yamlType constants.FSType

func (t *yamlType) UnmarshalYAML(node *yaml.Node) error {
	ft, ok := constants.ParseFSType(node.Value)
	if !ok {
		return errors.Newf("unknown value type %q", node.Value)
	}
	*t = yamlType(ft)
	return nil
}

type keyFieldYAML struct {
	Name string   `yaml:"name"`
	Type yamlType `yaml:"type"`
}

type entityYAML struct {
	Name        string            `yaml:"name"`
	JoinKeys    []keyFieldYAML    `yaml:"join_keys"`
	Description string            `yaml:"description"`
	Tags        map[string]string `yaml:"tags"`
}

type batchSourceYAML struct {
	Name           string            `yaml:"name"`
	Adapter        string            `yaml:"adapter"`
	Connection     string            `yaml:"connection"`
	Table          string            `yaml:"table"`
	Query          string            `yaml:"query"`
	Path           string            `yaml:"path"`
	TimestampField string            `yaml:"timestamp_field"`
	Filter         string            `yaml:"filter"`
	Description    string            `yaml:"description"`
	Tags           map[string]string `yaml:"tags"`
}

type pushSourceYAML struct {
	Name        string            `yaml:"name"`
	BatchSource string            `yaml:"batch_source"`
	Description string            `yaml:"description"`
	Tags        map[string]string `yaml:"tags"`
}

type fieldYAML struct {
	Name string   `yaml:"name"`
	Type yamlType `yaml:"type"`
}

type featureViewYAML struct {
	Name        string            `yaml:"name"`
	Entities    []string          `yaml:"entities"`
	Schema      []fieldYAML       `yaml:"schema"`
	TTL         yamlDuration      `yaml:"ttl"`
	Online      bool              `yaml:"online"`
	Source      string            `yaml:"source"`
	Description string            `yaml:"description"`
	Tags        map[string]string `yaml:"tags"`
}

type projectionYAML struct {
	View   string   `yaml:"view"`
	Fields []string `yaml:"fields"`
}

type featureServiceYAML struct {
	Name        string            `yaml:"name"`
	Features    []projectionYAML  `yaml:"features"`
	Description string            `yaml:"description"`
	Owner       string            `yaml:"owner"`
	Tags        map[string]string `yaml:"tags"`
}

type definitionsYAML struct {
	Project         string               `yaml:"project"`
	Entities        []entityYAML         `yaml:"entities"`
	BatchSources    []batchSourceYAML    `yaml:"batch_sources"`
	PushSources     []pushSourceYAML     `yaml:"push_sources"`
	FeatureViews    []featureViewYAML    `yaml:"feature_views"`
	FeatureServices []featureServiceYAML `yaml:"feature_services"`
}

// Load reads a YAML definition set. Unknown keys are rejected so typos in
// definition files fail loudly instead of silently dropping configuration.
func Load(r io.Reader) (*Definitions, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var raw definitionsYAML
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode registry definitions")
	}

	defs := &Definitions{Project: raw.Project}
	for _, e := range raw.Entities {
		keys := make([]KeyField, len(e.JoinKeys))
		for i, k := range e.JoinKeys {
			keys[i] = KeyField{Name: k.Name, Type: constants.FSType(k.Type)}
		}
		defs.Entities = append(defs.Entities, &Entity{
			Name:        e.Name,
			JoinKeys:    keys,
			Description: e.Description,
			Tags:        e.Tags,
		})
	}
	for _, s := range raw.BatchSources {
		defs.BatchSources = append(defs.BatchSources, &BatchSource{
			Name:           s.Name,
			Adapter:        s.Adapter,
			Connection:     s.Connection,
			Table:          s.Table,
			Query:          s.Query,
			Path:           s.Path,
			TimestampField: s.TimestampField,
			Filter:         s.Filter,
			Description:    s.Description,
			Tags:           s.Tags,
		})
	}
	for _, s := range raw.PushSources {
		defs.PushSources = append(defs.PushSources, &PushSource{
			Name:        s.Name,
			BatchSource: s.BatchSource,
			Description: s.Description,
			Tags:        s.Tags,
		})
	}
	for _, v := range raw.FeatureViews {
		schema := make([]Field, len(v.Schema))
		for i, f := range v.Schema {
			schema[i] = Field{Name: f.Name, Type: constants.FSType(f.Type)}
		}
		defs.FeatureViews = append(defs.FeatureViews, &FeatureView{
			Name:        v.Name,
			Entities:    v.Entities,
			Schema:      schema,
			TTL:         time.Duration(v.TTL),
			Online:      v.Online,
			Source:      v.Source,
			Description: v.Description,
			Tags:        v.Tags,
		})
	}
	for _, s := range raw.FeatureServices {
		projections := make([]Projection, len(s.Features))
		for i, p := range s.Features {
			projections[i] = Projection{ViewName: p.View, Fields: p.Fields}
		}
		defs.FeatureServices = append(defs.FeatureServices, &FeatureService{
			Name:        s.Name,
			Projections: projections,
			Description: s.Description,
			Owner:       s.Owner,
			Tags:        s.Tags,
		})
	}
	return defs, nil
}

func LoadFile(path string) (*Definitions, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open registry definitions %s", path)
	}
	defer f.Close()
	return Load(f)
}
