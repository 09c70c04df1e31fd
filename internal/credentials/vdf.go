package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Node is one KeyValues entry: either a string value or a block of children.
type Node struct {
	Key      string
	Value    string
	Children []*Node
}

// Get returns the first direct child with the given key, compared
// case-insensitively as Valve does.
func (n *Node) Get(key string) *Node {
	for _, c := range n.Children {
		if strings.EqualFold(c.Key, key) {
			return c
		}
	}
	return nil
}

// Find returns the first node with the given key anywhere below n.
func (n *Node) Find(key string) *Node {
	for _, c := range n.Children {
		if strings.EqualFold(c.Key, key) {
			return c
		}
		if found := c.Find(key); found != nil {
			return found
		}
	}
	return nil
}

// ParseVDF reads Valve KeyValues text, the format of steamcmd's config.vdf.
func ParseVDF(r io.Reader) (*Node, error) {
	p := &vdfParser{r: bufio.NewReader(r), line: 1}
	root := &Node{}
	if err := p.block(root, false); err != nil {
		return nil, err
	}
	return root, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokOpen
	tokClose
)

type vdfParser struct {
	r    *bufio.Reader
	line int
}

func (p *vdfParser) block(parent *Node, nested bool) error {
	for {
		kind, key, err := p.next()
		if err != nil {
			return err
		}
		switch kind {
		case tokEOF:
			if nested {
				return fmt.Errorf("vdf line %d: unexpected end of input, missing '}'", p.line)
			}
			return nil
		case tokClose:
			if !nested {
				return fmt.Errorf("vdf line %d: unexpected '}'", p.line)
			}
			return nil
		case tokOpen:
			return fmt.Errorf("vdf line %d: '{' without a key", p.line)
		}

		kind, val, err := p.next()
		if err != nil {
			return err
		}
		node := &Node{Key: key}
		switch kind {
		case tokString:
			node.Value = val
		case tokOpen:
			if err := p.block(node, true); err != nil {
				return err
			}
		default:
			return fmt.Errorf("vdf line %d: key %q has no value", p.line, key)
		}
		parent.Children = append(parent.Children, node)
	}
}

func (p *vdfParser) next() (tokenKind, string, error) {
	for {
		c, err := p.r.ReadByte()
		if errors.Is(err, io.EOF) {
			return tokEOF, "", nil
		}
		if err != nil {
			return tokEOF, "", err
		}
		switch {
		case c == '\n':
			p.line++
		case c == ' ' || c == '\t' || c == '\r':
		case c == '{':
			return tokOpen, "", nil
		case c == '}':
			return tokClose, "", nil
		case c == '"':
			s, err := p.quoted()
			return tokString, s, err
		case c == '/':
			if nc, _ := p.r.Peek(1); len(nc) == 1 && nc[0] == '/' {
				if _, err := p.r.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
					return tokEOF, "", err
				}
				p.line++
				continue
			}
			return tokString, p.bare(c), nil
		case c == '[':
			// Conditionals such as [$WIN32] are skipped.
			if _, err := p.r.ReadString(']'); err != nil && !errors.Is(err, io.EOF) {
				return tokEOF, "", err
			}
		default:
			return tokString, p.bare(c), nil
		}
	}
}

func (p *vdfParser) quoted() (string, error) {
	var b strings.Builder
	for {
		c, err := p.r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("vdf line %d: unterminated string", p.line)
		}
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			e, err := p.r.ReadByte()
			if err != nil {
				return "", fmt.Errorf("vdf line %d: unterminated string", p.line)
			}
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(e)
			}
		case '\n':
			p.line++
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
}

func (p *vdfParser) bare(first byte) string {
	var b strings.Builder
	b.WriteByte(first)
	for {
		c, err := p.r.ReadByte()
		if err != nil {
			return b.String()
		}
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '{' || c == '}' || c == '"' {
			p.r.UnreadByte()
			return b.String()
		}
		b.WriteByte(c)
	}
}
