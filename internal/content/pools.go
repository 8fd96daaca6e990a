package content

import (
	"bytes"
	_ "embed"
	"os"
	"strings"

	"clipmill/internal/pkg/errors"

	"github.com/pelletier/go-toml/v2"
)

//go:embed pools.toml
var defaultPools []byte

// Pools holds the reusable captions and hashtags. The two pools are disjoint.
type Pools struct {
	Captions []string `toml:"captions"`
	Hashtags []string `toml:"hashtags"`
}

// DefaultPools returns the embedded pools.
func DefaultPools() Pools {
	p, err := ParsePools(defaultPools)
	if err != nil {
		panic("content: embedded pools are invalid: " + err.Error())
	}
	return p
}

// LoadPools reads a TOML pools file. An empty path returns the defaults.
func LoadPools(path string) (Pools, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPools(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Pools{}, errors.Wrap(err, "content.LoadPools", "failed to read pools file")
	}
	return ParsePools(data)
}

// ParsePools decodes, normalizes and validates pools.
func ParsePools(data []byte) (Pools, error) {
	var p Pools
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pools{}, errors.WrapWithCode(err, errors.CodeValidation, "content.ParsePools", "invalid pools file")
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return Pools{}, err
	}
	return p, nil
}

func (p *Pools) normalize() {
	p.Captions = dedupe(p.Captions, strings.TrimSpace)
	p.Hashtags = dedupe(p.Hashtags, normalizeTag)
}

func (p Pools) Validate() error {
	if len(p.Captions) == 0 {
		return errors.ValidationField("captions", "caption pool is empty")
	}
	if len(p.Hashtags) == 0 {
		return errors.ValidationField("hashtags", "hashtag pool is empty")
	}
	tags := make(map[string]struct{}, len(p.Hashtags))
	for _, h := range p.Hashtags {
		if strings.ContainsAny(h, " \t\r\n") {
			return errors.ValidationField("hashtags", "hashtag contains whitespace: "+h)
		}
		tags[h] = struct{}{}
	}
	for _, c := range p.Captions {
		if _, ok := tags[c]; ok {
			return errors.ValidationField("captions", "entry appears in both pools: "+c)
		}
	}
	return nil
}

func normalizeTag(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return "#" + strings.TrimLeft(s, "#")
}

func dedupe(in []string, norm func(string) string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = norm(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
