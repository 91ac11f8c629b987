// Package note reads markdown notes with YAML frontmatter and turns them
// into posts.
package note

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/blacktop/polyglot/internal/xpost"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// SmallPostTag marks a note as meant for social networks.
const SmallPostTag = "smallpost"

// Source is stamped on every post built from a note.
const Source = "polyglot"

const delimiter = "---"

var (
	wikiLinkRe  = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	mdLinkRe    = regexp.MustCompile(`!?\[[^\]]*\]\([^)]+\)`)
	highlightRe = regexp.MustCompile(`==(.+?)==`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// Frontmatter is the subset of note metadata polyglot understands.
type Frontmatter struct {
	Title       string     `yaml:"title,omitempty"`
	Tags        stringList `yaml:"tags,omitempty"`
	Networks    stringList `yaml:"networks,omitempty"`
	OriginalURL string     `yaml:"originalUrl,omitempty"`
	Published   bool       `yaml:"published,omitempty"`
}

// stringList accepts either a YAML sequence or a single scalar.
type stringList []string

func (s *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*s = nil
			return nil
		}
		*s = stringList{value.Value}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := value.Decode(&out); err != nil {
			return err
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", value.Line)
	}
}

// Note is a parsed markdown note.
type Note struct {
	Path        string
	Frontmatter Frontmatter
	Body        string
}

// Load reads and parses the note at path.
func Load(path string) (*Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}
	n, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	n.Path = path
	return n, nil
}

// Parse splits data into frontmatter and body. Data without a leading
// frontmatter block is all body.
func Parse(data []byte) (*Note, error) {
	fm, body, ok := split(data)
	n := &Note{Body: string(body)}
	if !ok {
		return n, nil
	}
	if err := yaml.Unmarshal(fm, &n.Frontmatter); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}
	return n, nil
}

// split returns the frontmatter bytes and the remaining body.
func split(data []byte) (frontmatter, body []byte, ok bool) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, []byte(delimiter+"\n")) {
		return nil, data, false
	}
	rest := data[len(delimiter)+1:]
	if bytes.HasPrefix(rest, []byte(delimiter+"\n")) || bytes.Equal(rest, []byte(delimiter)) {
		return nil, bytes.TrimPrefix(rest[len(delimiter):], []byte("\n")), true
	}
	end := bytes.Index(rest, []byte("\n"+delimiter+"\n"))
	if end < 0 {
		if bytes.HasSuffix(rest, []byte("\n"+delimiter)) {
			return rest[:len(rest)-len(delimiter)-1], nil, true
		}
		return nil, data, false
	}
	return rest[:end+1], rest[end+len(delimiter)+2:], true
}

// Tags returns the frontmatter tags without leading '#', blanks or
// duplicates.
func (n *Note) Tags() []string {
	tags := lo.FilterMap(n.Frontmatter.Tags, func(tag string, _ int) (string, bool) {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		return tag, tag != ""
	})
	return lo.Uniq(tags)
}

// IsSmallPost reports whether the note carries the smallpost tag.
func (n *Note) IsSmallPost() bool {
	return lo.Contains(n.Tags(), SmallPostTag)
}

// Published reports whether the note was already published.
func (n *Note) Published() bool {
	return n.Frontmatter.Published
}

// Networks parses the frontmatter network list. Nil means the note names
// none.
func (n *Note) Networks() ([]xpost.Network, error) {
	var out []xpost.Network
	for _, raw := range n.Frontmatter.Networks {
		network, err := xpost.ParseNetwork(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, network)
	}
	return lo.Uniq(out), nil
}

// Content returns the body with wiki links reduced to their text,
// highlights unwrapped and markdown images and links removed.
func (n *Note) Content() string {
	return Clean(n.Body)
}

// Clean applies the note body transformations to text.
func Clean(text string) string {
	text = wikiLinkRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := wikiLinkRe.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[2]
		}
		return sub[1]
	})
	text = mdLinkRe.ReplaceAllString(text, "")
	text = highlightRe.ReplaceAllString(text, "$1")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Post builds the post to publish. The smallpost marker is not carried
// into the tags.
func (n *Note) Post() xpost.Post {
	title := strings.TrimSpace(n.Frontmatter.Title)
	if title == "" && n.Path != "" {
		base := filepath.Base(n.Path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return xpost.Post{
		Content: n.Content(),
		Metadata: xpost.Metadata{
			Title:       title,
			Tags:        lo.Without(n.Tags(), SmallPostTag),
			CreatedAt:   time.Now(),
			Source:      Source,
			OriginalURL: strings.TrimSpace(n.Frontmatter.OriginalURL),
		},
	}
}

// MarkPublished sets published: true and publishedDate in the frontmatter
// of the note at path. Other keys and the body are kept as they are.
func MarkPublished(path string, at time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat note: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read note: %w", err)
	}

	fm, body, _ := split(data)
	var doc yaml.Node
	if len(bytes.TrimSpace(fm)) > 0 {
		if err := yaml.Unmarshal(fm, &doc); err != nil {
			return fmt.Errorf("invalid frontmatter in %s: %w", path, err)
		}
	}
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return errors.New("frontmatter is not a mapping")
	}
	root := doc.Content[0]
	setKey(root, "published", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"})
	setKey(root, "publishedDate", &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: at.UTC().Format(time.RFC3339)})

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode frontmatter: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(delimiter + "\n")
	out.Write(buf.Bytes())
	out.WriteString(delimiter + "\n")
	out.Write(body)
	if err := os.WriteFile(path, out.Bytes(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("write note: %w", err)
	}
	return nil
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}
