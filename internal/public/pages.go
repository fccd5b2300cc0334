package public

import (
	"bytes"
	"context"
	"embed"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/barrierfree-rail/internal/apperr"
	"github.com/yourusername/barrierfree-rail/internal/cache"
	"github.com/yourusername/barrierfree-rail/internal/diagram"
	"github.com/yourusername/barrierfree-rail/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

func parsePages() (*template.Template, error) {
	return template.New("pages").Funcs(template.FuncMap{
		"kindLabel": func(k model.FacilityKind) string { return k.Label() },
		"carLabel": func(n int) string {
			if n == 0 {
				return ""
			}
			return strconv.Itoa(n) + "号車"
		},
	}).ParseFS(templateFS, "templates/*.html")
}

// RegisterPages は HTML ページを登録します。
func (h *Handler) RegisterPages(r gin.IRoutes) {
	r.GET("/", h.cachedPage("index.html", h.indexPage))
	r.GET("/stations/:id", h.cachedPage("station.html", h.stationPage))
}

type operatorLines struct {
	Operator model.Operator
	Lines    []model.Line
}

type indexView struct {
	Query     string
	Hits      []stationHit
	Operators []operatorLines
}

type platformView struct {
	platformDetail
	Diagrams []*diagram.Diagram
}

type stationView struct {
	*stationDetail
	PlatformViews []platformView
}

// cachedPage は描画済みの HTML をキャッシュします。
func (h *Handler) cachedPage(name string, load loader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := cache.Key("page", c.Request.URL.Path, c.Request.URL.RawQuery)

		var body []byte
		version, hit, cacheable := h.lookup(ctx, key, &body)
		if hit {
			c.Data(http.StatusOK, "text/html; charset=utf-8", body)
			return
		}

		view, err := load(c)
		if err != nil {
			h.errorPage(c, err)
			return
		}
		var buf bytes.Buffer
		if err := h.pages.ExecuteTemplate(&buf, name, view); err != nil {
			h.errorPage(c, err)
			return
		}
		body = buf.Bytes()
		if cacheable {
			h.save(ctx, version, key, body)
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", body)
	}
}

func (h *Handler) errorPage(c *gin.Context, err error) {
	status := apperr.StatusOf(apperr.Translate(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("failed to render page", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	var buf bytes.Buffer
	if rerr := h.pages.ExecuteTemplate(&buf, "error.html", gin.H{"Status": status, "Message": http.StatusText(status)}); rerr != nil {
		c.String(status, http.StatusText(status))
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (h *Handler) indexPage(c *gin.Context) (any, error) {
	ctx := c.Request.Context()
	view := indexView{Query: c.Query("q")}
	if view.Query != "" {
		hits, err := h.search(ctx, view.Query, 0)
		if err != nil {
			return nil, err
		}
		view.Hits = hits
	}
	ops, err := h.operatorsWithLines(ctx)
	if err != nil {
		return nil, err
	}
	view.Operators = ops
	return view, nil
}

func (h *Handler) operatorsWithLines(ctx context.Context) ([]operatorLines, error) {
	ops, err := h.store.ListOperators(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]operatorLines, 0, len(ops))
	for _, op := range ops {
		lines, err := h.store.ListLines(ctx, op.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, operatorLines{Operator: op, Lines: lines})
	}
	return out, nil
}

func (h *Handler) stationPage(c *gin.Context) (any, error) {
	id, err := paramID(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request.Context()
	detail, err := h.loadStation(ctx, id)
	if err != nil {
		return nil, err
	}
	view := stationView{stationDetail: detail}
	for _, p := range detail.Platforms {
		ds, err := h.store.PlatformDiagrams(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		view.PlatformViews = append(view.PlatformViews, platformView{platformDetail: p, Diagrams: ds})
	}
	return view, nil
}
