package rpc

import (
	"context"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// maxCategoryDepth bounds the recursion over nested categories; the
// backend itself never nests deeper, so hitting the bound means a parsing
// loop.
const maxCategoryDepth = 32

// GetCategories scrapes the category tree starting at the root listing and
// returns the flattened tree in depth-first order. An empty result is
// valid, the backend may simply have no categories.
func (c *Client) GetCategories(ctx context.Context) ([]Category, error) {
	return c.categories(ctx, -1, 0)
}

func (c *Client) categories(ctx context.Context, parentID, level int) ([]Category, error) {
	if level > maxCategoryDepth {
		return nil, &ScrapeError{Page: c.dialect.StructurePath(parentID, 0), Reason: "category nesting exceeds limit"}
	}

	env, err := c.request(ctx, c.dialect.StructurePath(parentID, 0), nil, "")
	if err != nil {
		return nil, err
	}

	var (
		result  []Category
		walkErr error
	)
	env.Doc.Find(`tr[class*="rex-status"]`).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		// Rows carrying an article id belong to the article table that
		// shares the page with the category table.
		if id, ok := row.Attr("data-article-id"); ok && id != "" {
			return true
		}
		idText := row.Find(`td[class*="rex-table-id"]`).First().Text()
		id, err := strconv.Atoi(strings.TrimSpace(idText))
		if err != nil || id == 0 {
			return true
		}

		category := Category{
			ID:       id,
			ParentID: parentID,
			Level:    level,
			Name:     c.clean(row.Find(`td[class*="rex-table-category"]`).First().Text()),
		}
		children, err := c.categories(ctx, id, level+1)
		if err != nil {
			walkErr = err
			return false
		}
		for _, child := range children {
			if child.ParentID == id {
				category.Children = append(category.Children, child.ID)
			}
		}
		result = append(result, category)
		result = append(result, children...)
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return result, nil
}

// GetTemplates scrapes the template listing. Columns are addressed by
// position (icon, id, key, name, active marker), pinned to the backend
// version the dialect describes.
func (c *Client) GetTemplates(ctx context.Context, onlyActive bool) ([]Template, error) {
	rows, err := c.tableRows(ctx, c.dialect.TemplatesPath())
	if err != nil {
		return nil, err
	}

	var templates []Template
	for _, row := range rows {
		id, name, active, ok := parseCatalogRow(row)
		if !ok {
			continue
		}
		if onlyActive && !active {
			continue
		}
		templates = append(templates, Template{ID: id, Name: c.clean(name), Active: active})
	}
	return templates, nil
}

// GetModules scrapes the module listing, same fixed-column shape as the
// template listing.
func (c *Client) GetModules(ctx context.Context) ([]Module, error) {
	rows, err := c.tableRows(ctx, c.dialect.ModulesPath())
	if err != nil {
		return nil, err
	}

	var modules []Module
	for _, row := range rows {
		id, name, active, ok := parseCatalogRow(row)
		if !ok {
			continue
		}
		modules = append(modules, Module{ID: id, Name: c.clean(name), Active: active})
	}
	return modules, nil
}

func (c *Client) tableRows(ctx context.Context, path string) ([]*html.Node, error) {
	env, err := c.request(ctx, path, nil, "")
	if err != nil {
		return nil, err
	}
	doc, err := htmlquery.Parse(strings.NewReader(env.Content))
	if err != nil {
		return nil, &ScrapeError{Page: path, Reason: "unparsable listing: " + err.Error()}
	}
	return htmlquery.Find(doc, "//tbody/tr"), nil
}

// parseCatalogRow reads one listing row positionally: cell 1 is the id,
// cell 3 the name, cell 4 carries the active icon. Rows without a numeric
// id (header noise, addon rows) are skipped.
func parseCatalogRow(row *html.Node) (id int, name string, active bool, ok bool) {
	cells := htmlquery.Find(row, "./td")
	if len(cells) < 5 {
		return 0, "", false, false
	}
	id, err := strconv.Atoi(strings.TrimSpace(htmlquery.InnerText(cells[1])))
	if err != nil || id == 0 {
		return 0, "", false, false
	}
	name = strings.TrimSpace(htmlquery.InnerText(cells[3]))
	for _, icon := range htmlquery.Find(cells[4], ".//i") {
		if strings.Contains(htmlquery.SelectAttr(icon, "class"), "rex-icon-active-true") {
			active = true
		}
	}
	return id, name, active, true
}
