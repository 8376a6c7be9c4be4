package rpc

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// artStartRe extracts the pagination offset from a "next page" link.
var artStartRe = regexp.MustCompile(`artstart=([0-9]+)`)

// ArticlesByName fetches all articles of a category whose name matches the
// given regular expression. Use ".*" to match everything.
func (c *Client) ArticlesByName(ctx context.Context, nameRe string, categoryID int) ([]Article, error) {
	return c.FindArticlesByIdAndName(ctx, ".*", nameRe, categoryID)
}

// ArticlesByID fetches the article with the given id from a category. The
// result is a slice because the listing is the only source of truth and it
// may legally be empty.
func (c *Client) ArticlesByID(ctx context.Context, articleID, categoryID int) ([]Article, error) {
	return c.FindArticlesByIdAndName(ctx, strconv.Itoa(articleID), ".*", categoryID)
}

// FindArticlesByIdAndName pages through a category listing and filters the
// rows by id and name criteria. idSpec is either a single numeric id, in
// which case paging stops on the first match, or a regular expression over
// the id column (".*" matches all). The result is sorted ascending by id.
func (c *Client) FindArticlesByIdAndName(ctx context.Context, idSpec, nameRe string, categoryID int) ([]Article, error) {
	_, singleID := parseSingleID(idSpec)

	var articles []Article
	artStart := 0
	for {
		env, err := c.request(ctx, c.dialect.StructurePath(categoryID, artStart), nil, "")
		if err != nil {
			return nil, err
		}

		page, err := FilterArticles(env.Content, idSpec, nameRe)
		if err != nil {
			return nil, err
		}
		articles = append(articles, page...)

		if singleID && len(articles) > 0 {
			break
		}
		artStart = nextChunk(env.Doc)
		if artStart <= 0 {
			break
		}
	}

	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })
	return articles, nil
}

// parseSingleID reports whether the id criterion names exactly one article.
func parseSingleID(idSpec string) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(idSpec))
	return id, err == nil
}

// nextChunk reads the pagination controls and returns the artstart offset
// of the next page, or -1 when the listing is exhausted.
func nextChunk(doc *goquery.Document) int {
	if doc == nil {
		return -1
	}
	last := doc.Find("ul.pagination li").Last()
	if last.Length() == 0 || last.HasClass("disabled") {
		return -1
	}
	anchors := last.Find("a")
	if anchors.Length() != 1 {
		return -1
	}
	href, _ := anchors.First().Attr("href")
	if m := artStartRe.FindStringSubmatch(href); m != nil {
		offset, _ := strconv.Atoi(m[1])
		return offset
	}
	return -1
}

var filterPolicy = bluemonday.StrictPolicy()

// FilterArticles filters the article rows of one listing page. Rows are
// recognized by their server-rendered data-article-id attribute; idSpec and
// nameRe are regular expressions anchored over the full id and matched
// unanchored against the name column. The result is sorted ascending by
// id.
func FilterArticles(content, idSpec, nameRe string) ([]Article, error) {
	if idSpec == "" {
		idSpec = ".*"
	}
	if nameRe == "" {
		nameRe = ".*"
	}
	idPattern, err := regexp.Compile("^(?:" + idSpec + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid id criterion %q: %w", idSpec, err)
	}
	namePattern, err := regexp.Compile(nameRe)
	if err != nil {
		return nil, fmt.Errorf("invalid name criterion %q: %w", nameRe, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, &ScrapeError{Page: "article listing", Reason: "unparsable listing: " + err.Error()}
	}

	var articles []Article
	doc.Find(`tr[class*="rex-status"]`).Each(func(_ int, row *goquery.Selection) {
		idAttr, _ := row.Attr("data-article-id")
		idAttr = strings.TrimSpace(idAttr)
		if idAttr == "" || !idPattern.MatchString(idAttr) {
			return
		}
		id, err := strconv.Atoi(idAttr)
		if err != nil {
			return
		}

		name := cleanText(filterPolicy, row.Find(`td[class*="rex-table-article-name"]`).First().Text())
		if !namePattern.MatchString(name) {
			return
		}

		articles = append(articles, Article{
			ID:         id,
			Name:       name,
			CategoryID: rowCategoryID(row),
			Priority:   strings.TrimSpace(row.Find(`td[class*="rex-table-priority"]`).First().Text()),
			Template:   strings.TrimSpace(row.Find(`td[class*="rex-table-template"]`).First().Text()),
		})
	})

	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })
	return articles, nil
}

// rowCategoryID digs the category id out of the row's anchor targets; the
// listing repeats it in several hrefs, the first one wins.
func rowCategoryID(row *goquery.Selection) int {
	categoryID := 0
	row.Find("a[href]").EachWithBreak(func(_ int, anchor *goquery.Selection) bool {
		href, _ := anchor.Attr("href")
		idx := strings.Index(href, "?")
		if idx < 0 {
			return true
		}
		query, err := url.ParseQuery(href[idx+1:])
		if err != nil {
			return true
		}
		if value := query.Get("category_id"); value != "" {
			if id, err := strconv.Atoi(value); err == nil {
				categoryID = id
				return false
			}
		}
		return true
	})
	return categoryID
}
