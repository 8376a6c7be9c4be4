package rpc

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/rexrelay/rexrelay/internal/relay/csrf"
)

// DefaultArticlePosition sorts new articles to the end of their category.
const DefaultArticlePosition = 10000

// MoveArticle moves an article into another category. Moving and
// immediately re-reading the listing races inside the backend, so success
// is judged from the move answer itself: either the localized status
// string the backend appends to the redirect URL, or the breadcrumb of the
// destination page, depending on the dialect.
func (c *Client) MoveArticle(ctx context.Context, articleID, destCategoryID int) error {
	form := url.Values{
		"article_id":           {strconv.Itoa(articleID)},
		"page":                 {"content"},
		"mode":                 {"functions"},
		"save":                 {"1"},
		"clang":                {c.dialect.Lang},
		"ctype":                {"1"},
		"category_id_new":      {strconv.Itoa(destCategoryID)},
		"movearticle":          {"1"},
		"category_copy_id_new": {strconv.Itoa(articleID)},
	}
	env, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleMove)
	if err != nil {
		return err
	}

	if c.dialect.MoveByBreadcrumb {
		if breadcrumbHasCategory(env.Doc, destCategoryID) {
			return nil
		}
		return &ScrapeError{Page: env.Request, Reason: "destination category missing from breadcrumb after move"}
	}

	for _, answer := range c.dialect.MoveAnswers {
		if strings.Contains(env.Request, "info="+url.QueryEscape(answer)) {
			return nil
		}
	}
	return &ScrapeError{Page: env.Request, Reason: "move status answer missing from redirected request"}
}

// breadcrumbHasCategory checks whether the page breadcrumb links the given
// category, meaning the backend now renders the article inside it.
func breadcrumbHasCategory(doc *goquery.Document, categoryID int) bool {
	if doc == nil {
		return false
	}
	needle := "category_id=" + strconv.Itoa(categoryID)
	found := false
	doc.Find(`.breadcrumb a[href], .rex-breadcrumb a[href]`).EachWithBreak(func(_ int, anchor *goquery.Selection) bool {
		href, _ := anchor.Attr("href")
		if strings.Contains(href, needle) {
			found = true
			return false
		}
		return true
	})
	return found
}

// DeleteArticle removes an article and verifies the deletion by filtering
// the listing the backend answers with: the id must be gone.
func (c *Client) DeleteArticle(ctx context.Context, articleID, categoryID int) error {
	form := url.Values{
		"page":        {"structure"},
		"article_id":  {strconv.Itoa(articleID)},
		"function":    {"artdelete_function"},
		"category_id": {strconv.Itoa(categoryID)},
		"clang":       {c.dialect.Lang},
	}
	env, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleDelete)
	if err != nil {
		return err
	}

	remaining, err := FilterArticles(env.Content, strconv.Itoa(articleID), ".*")
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return &ScrapeError{Page: env.Request, Reason: "article still listed after delete"}
	}
	return nil
}

// AddArticle creates a new empty article and returns the listing rows
// matching its name. When no token is known yet for the add operation a
// listing GET is issued first to mint one (probe-then-act).
func (c *Client) AddArticle(ctx context.Context, name string, categoryID, templateID, position int) ([]Article, error) {
	if c.auth.CSRFTokens().Enabled() && c.auth.CSRFTokens().Token(csrf.OpArticleAdd) == "" {
		if _, err := c.request(ctx, c.dialect.StructurePath(categoryID, 0), nil, ""); err != nil {
			return nil, err
		}
	}

	form := url.Values{
		"page":                 {"structure"},
		"category_id":          {strconv.Itoa(categoryID)},
		"clang":                {c.dialect.Lang},
		"template_id":          {strconv.Itoa(templateID)},
		"article_name":         {name},
		"Position_New_Article": {strconv.Itoa(position)},
		"artadd_function":      {"1"},
	}
	env, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleAdd)
	if err != nil {
		return nil, err
	}

	created, err := FilterArticles(env.Content, ".*", name)
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, &ScrapeError{Page: env.Request, Reason: "article not listed after add"}
	}
	return created, nil
}

// EditArticle updates name, template and display priority of an article
// without touching its content, and returns the article's listing row for
// verification.
func (c *Client) EditArticle(ctx context.Context, articleID, categoryID int, name string, templateID, position int) ([]Article, error) {
	form := url.Values{
		"page":             {"structure"},
		"article_id":       {strconv.Itoa(articleID)},
		"category_id":      {strconv.Itoa(categoryID)},
		"function":         {"artedit_function"},
		"article_name":     {name},
		"template_id":      {strconv.Itoa(templateID)},
		"Position_Article": {strconv.Itoa(position)},
		"clang":            {c.dialect.Lang},
	}
	env, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleEdit)
	if err != nil {
		return nil, err
	}
	return FilterArticles(env.Content, strconv.Itoa(articleID), ".*")
}

// SetArticleName changes only the article name via the metadata form. The
// answer renders the form back, so success is verified by re-reading the
// article id and the name field from the response.
func (c *Client) SetArticleName(ctx context.Context, articleID int, name string) error {
	form := url.Values{
		"page":              {"content"},
		"article_id":        {strconv.Itoa(articleID)},
		"mode":              {"meta"},
		"save":              {"1"},
		"clang":             {c.dialect.Lang},
		"ctype":             {"1"},
		"meta_article_name": {name},
		"savemeta":          {"1"},
	}
	env, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleEdit)
	if err != nil {
		return err
	}

	wantID := strconv.Itoa(articleID)
	idField := env.Doc.Find(`input[name="article_id"][value="` + wantID + `"]`)
	if idField.Length() == 0 {
		return &ScrapeError{Page: env.Request, Reason: "response form addresses a different article"}
	}

	nameField := env.Doc.Find("#rex-form-meta-article-name").First()
	fieldName, _ := nameField.Attr("name")
	fieldValue, _ := nameField.Attr("value")
	if fieldName != "meta_article_name" || fieldValue != name {
		return &ScrapeError{Page: env.Request, Reason: "name field does not carry the new name"}
	}
	return nil
}

// AddArticleBlock appends a content block to an article. Two phases: the
// add request opens the edit form and yields the current block count, the
// save request submits it; success means the block count grew by exactly
// one.
func (c *Client) AddArticleBlock(ctx context.Context, articleID, blockID, sliceID int) error {
	if articleID <= 0 || blockID <= 0 {
		return &ScrapeError{Page: c.dialect.LandingPath, Reason: "article and block id are required"}
	}

	form := url.Values{
		"article_id": {strconv.Itoa(articleID)},
		"page":       {"content"},
		"mode":       {"edit"},
		"slice_id":   {strconv.Itoa(sliceID)},
		"function":   {"add"},
		"clang":      {c.dialect.Lang},
		"ctype":      {"1"},
		"module_id":  {strconv.Itoa(blockID)},
	}
	env, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleEdit)
	if err != nil {
		return err
	}

	if env.Doc.Find("div.rex-form-content-editmode-add-slice").Length() != 1 {
		c.log.Debug("block add form missing from edit response",
			zap.Int("article_id", articleID),
			zap.Int("block_id", blockID))
		return &ScrapeError{Page: env.Request, Reason: "edit form for the new block did not open"}
	}
	before := countSlices(env.Doc)

	form.Set("save", "1")
	form.Set("btn_save", "1")
	saved, err := c.request(ctx, c.dialect.LandingPath, form, csrf.OpArticleEdit)
	if err != nil {
		return err
	}

	if after := countSlices(saved.Doc); after != before+1 {
		return &ScrapeError{Page: saved.Request, Reason: "block count did not grow by one"}
	}
	return nil
}

func countSlices(doc *goquery.Document) int {
	if doc == nil {
		return 0
	}
	return doc.Find("div.rex-content-editmode-slice-output").Length()
}
