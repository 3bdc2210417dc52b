package vitis

import (
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultTableClass marks the data table on every portal page.
const DefaultTableClass = "tb_base tb_dados"

var (
	// 1.234.567 / 1.234,5 / 1234 / 12,5 / -3
	brNumber = regexp.MustCompile(`^-?(\d{1,3}(\.\d{3})+|\d+)(,\d+)?$`)

	nullCells = map[string]bool{"": true, "-": true, "*": true, "nd": true}
)

// ParseTable reads an HTML document and extracts the first table whose class
// attribute contains every class in tableClass. A missing table is a
// *ParseError; a table with headers and no rows is a valid empty set.
func ParseTable(r io.Reader, tableClass, url string) (*RecordSet, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, &ParseError{URL: url, Reason: err.Error()}
	}

	table := findTable(doc, strings.Fields(tableClass))
	if table == nil {
		return nil, &ParseError{URL: url, Reason: "no table with class " + strconv.Quote(tableClass)}
	}

	header, body := splitRows(table)
	if header == nil {
		return nil, &ParseError{URL: url, Reason: "table has no header row"}
	}

	rs := NewRecordSet(columnNames(cellTexts(header))...)
	for _, tr := range body {
		texts := cellTexts(tr)
		if len(texts) == 0 {
			continue
		}
		row := make(Row, len(rs.Columns))
		for i := range row {
			if i < len(texts) {
				row[i] = parseCell(texts[i])
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// findTable walks the tree depth-first for a <table> carrying all classes.
func findTable(n *html.Node, classes []string) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Table && hasClasses(n, classes) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTable(c, classes); t != nil {
			return t
		}
	}
	return nil
}

func hasClasses(n *html.Node, want []string) bool {
	var have []string
	for _, a := range n.Attr {
		if a.Key == "class" {
			have = strings.Fields(a.Val)
			break
		}
	}
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// splitRows returns the header row and the body rows (tbody then tfoot).
// Without a thead, the first row made only of <th> cells is the header.
// Rows of nested tables are not visited.
func splitRows(table *html.Node) (*html.Node, []*html.Node) {
	var head, body, foot []*html.Node
	var walk func(n *html.Node, section atom.Atom)
	walk = func(n *html.Node, section atom.Atom) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Thead, atom.Tbody, atom.Tfoot:
				walk(c, c.DataAtom)
			case atom.Tr:
				switch section {
				case atom.Thead:
					head = append(head, c)
				case atom.Tfoot:
					foot = append(foot, c)
				default:
					body = append(body, c)
				}
			}
		}
	}
	walk(table, atom.Tbody)

	if len(head) > 0 {
		// Multi-row headers keep the last row, which carries the leaf names.
		return head[len(head)-1], append(body, foot...)
	}
	for i, tr := range body {
		if onlyHeaderCells(tr) {
			rest := append(append([]*html.Node{}, body[:i]...), body[i+1:]...)
			return tr, append(rest, foot...)
		}
	}
	return nil, nil
}

func onlyHeaderCells(tr *html.Node) bool {
	seen := false
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom != atom.Th {
			return false
		}
		seen = true
	}
	return seen
}

// cellTexts returns the normalized text of each th/td, expanding colspan.
func cellTexts(tr *html.Node) []string {
	var out []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		text := collectText(c)
		span := 1
		for _, a := range c.Attr {
			if a.Key == "colspan" {
				if n, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && n > 1 {
					span = n
				}
			}
		}
		for range span {
			out = append(out, text)
		}
	}
	return out
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// columnNames fills blank names and de-duplicates repeats with ".N" suffixes.
func columnNames(raw []string) []string {
	names := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	suffix := make(map[string]int, len(raw))
	for i, name := range raw {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if used[name] {
			base := name
			for n := suffix[base] + 1; ; n++ {
				name = base + "." + strconv.Itoa(n)
				if !used[name] {
					suffix[base] = n
					break
				}
			}
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// parseCell turns portal cell text into a scalar. Numbers use "." for
// thousands and "," for decimals.
func parseCell(text string) Value {
	if nullCells[strings.ToLower(text)] {
		return nil
	}
	if brNumber.MatchString(text) {
		normalized := strings.ReplaceAll(text, ".", "")
		normalized = strings.Replace(normalized, ",", ".", 1)
		if f, err := strconv.ParseFloat(normalized, 64); err == nil {
			return f
		}
	}
	return text
}
