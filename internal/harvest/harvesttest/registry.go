// Package harvesttest serves a fake inmate registry for tests, covering every
// page shape the enumerators and fetchers know how to read.
package harvesttest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"
)

type Inmate struct {
	ID          string
	Name        string
	Comments    string
	Proceedings string
	Aggravating string
	Mitigating  string
	Opinions    string
	Image       string
}

// Inmates is a small fixture set, the second inmate has no comments or image.
func Inmates() []Inmate {
	return []Inmate{
		{
			ID:          "036085",
			Name:        "John Doe",
			Comments:    "Sentenced in 1990.",
			Proceedings: "Direct appeal affirmed.",
			Aggravating: "Prior violent felony.",
			Mitigating:  "Age at time of offense.",
			Opinions:    "State v. Doe, 1 P.2d 1.",
			Image:       "images/036085.jpg",
		},
		{
			ID:          "036366",
			Name:        "Richard Roe",
			Proceedings: "Resentenced.",
		},
		{
			ID:          "039656",
			Name:        "Mary Major",
			Comments:    "Transferred.",
			Aggravating: "Pecuniary gain.",
			Image:       "images/039656.jpg",
		},
		{
			ID:   "042891",
			Name: "Jane Poe",
		},
		{
			ID:          "043800",
			Name:        "Sam Smith",
			Comments:    "  padded   comment  ",
			Mitigating:  "Remorse.",
			Opinions:    "State v. Smith.",
			Image:       "/images/043800.jpg",
			Proceedings: "Pending.",
		},
	}
}

const (
	DetailPath = "/DeathRowSearchInmateInfo.aspx"
	IndexPath  = "/DeathRowSearch.aspx"
	FormPath   = "/DeathRowSearchForm.aspx"

	GridTarget   = "gvResults"
	SearchButton = "btnSearch"
)

// Registry is the fake site. Configure it before issuing requests.
type Registry struct {
	Server *httptest.Server

	// PageSize is the number of inmates per index or grid page.
	PageSize int
	// EmptyIndex makes the index and search grid render without any links.
	EmptyIndex bool

	inmates []Inmate
	byID    map[string]Inmate

	mutex  sync.Mutex
	status map[string]int
	delay  map[string]time.Duration
	hits   map[string]int
	starts []time.Time
	views  map[string]view
	nonce  int
}

type view struct {
	kind string
	page int
}

// NewRegistry starts a registry that is shut down with the test.
func NewRegistry(t testing.TB, inmates []Inmate) *Registry {
	r := NewServer(inmates)
	t.Cleanup(r.Server.Close)
	return r
}

// NewServer starts a registry outside of a test, the caller closes r.Server.
func NewServer(inmates []Inmate) *Registry {
	r := &Registry{
		PageSize: 2,
		inmates:  inmates,
		byID:     map[string]Inmate{},
		status:   map[string]int{},
		delay:    map[string]time.Duration{},
		hits:     map[string]int{},
		views:    map[string]view{},
	}
	for _, inmate := range inmates {
		r.byID[inmate.ID] = inmate
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DetailPath, r.handleDetail)
	mux.HandleFunc(IndexPath, r.handleIndex)
	mux.HandleFunc(FormPath, r.handleForm)
	mux.Handle("/images/", http.NotFoundHandler())

	r.Server = httptest.NewServer(mux)
	return r
}

func (r *Registry) DetailURL(id string) string {
	return fmt.Sprintf("%s%s?ID=%s", r.Server.URL, DetailPath, url.QueryEscape(id))
}

// DetailTemplate is the detail address with an `{id}` placeholder.
func (r *Registry) DetailTemplate() string {
	return r.Server.URL + DetailPath + "?ID={id}"
}

func (r *Registry) IndexURL() string {
	return r.Server.URL + IndexPath
}

func (r *Registry) FormURL() string {
	return r.Server.URL + FormPath
}

// Fail makes every request for the inmate answer with `status`.
func (r *Registry) Fail(id string, status int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.status[id] = status
}

// Delay makes every request for the inmate stall for `d` before answering.
func (r *Registry) Delay(id string, d time.Duration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.delay[id] = d
}

// Hits returns the number of requests made to `path`.
func (r *Registry) Hits(path string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.hits[path]
}

// Starts returns the arrival time of every request, in order.
func (r *Registry) Starts() []time.Time {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]time.Time(nil), r.starts...)
}

func (r *Registry) hit(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.hits[path]++
	r.starts = append(r.starts, time.Now())
}

// misbehave applies configured failures for an inmate, it returns true when
// the response has already been written.
func (r *Registry) misbehave(w http.ResponseWriter, req *http.Request, id string) bool {
	r.mutex.Lock()
	status := r.status[id]
	delay := r.delay[id]
	r.mutex.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return true
		}
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return true
	}
	return false
}

func (r *Registry) handleDetail(w http.ResponseWriter, req *http.Request) {
	r.hit(DetailPath)

	id := req.URL.Query().Get("ID")
	if r.misbehave(w, req, id) {
		return
	}
	inmate, ok := r.byID[id]
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("content-type", "text/html; charset=utf-8")
	render(w, detailTemplate, pageData{Inmate: inmate})
}

func (r *Registry) page(number int) ([]Inmate, bool) {
	if r.EmptyIndex {
		return nil, false
	}
	start := (number - 1) * r.PageSize
	if number < 1 || start >= len(r.inmates) {
		return nil, false
	}
	end := min(start+r.PageSize, len(r.inmates))
	return r.inmates[start:end], end < len(r.inmates)
}

func (r *Registry) pageCount() int {
	if r.EmptyIndex {
		return 0
	}
	return (len(r.inmates) + r.PageSize - 1) / r.PageSize
}

func (r *Registry) handleIndex(w http.ResponseWriter, req *http.Request) {
	r.hit(IndexPath)

	number := 1
	if p := req.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			http.Error(w, "bad page", http.StatusBadRequest)
			return
		}
		number = parsed
	}
	inmates, more := r.page(number)

	w.Header().Set("content-type", "text/html; charset=utf-8")
	render(w, indexTemplate, pageData{Inmates: inmates, Next: more, NextPage: number + 1})
}

func (r *Registry) issue(v view) string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.nonce++
	token := fmt.Sprintf("vs-%d", r.nonce)
	r.views[token] = v
	return token
}

func (r *Registry) lookup(token string) (view, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	v, ok := r.views[token]
	return v, ok
}

func (r *Registry) handleForm(w http.ResponseWriter, req *http.Request) {
	r.hit(FormPath)
	w.Header().Set("content-type", "text/html; charset=utf-8")

	if req.Method == http.MethodGet {
		render(w, formTemplate, pageData{ViewState: r.issue(view{kind: "search"})})
		return
	}

	err := req.ParseForm()
	if err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	current, ok := r.lookup(req.PostForm.Get("__VIEWSTATE"))
	if !ok || req.PostForm.Get("__VIEWSTATEGENERATOR") != "CA0B0334" {
		http.Error(w, "Invalid viewstate.", http.StatusInternalServerError)
		return
	}
	if req.PostForm.Get("__EVENTVALIDATION") != "ev-"+req.PostForm.Get("__VIEWSTATE") {
		http.Error(w, "Invalid postback or callback argument.", http.StatusInternalServerError)
		return
	}

	target := req.PostForm.Get("__EVENTTARGET")
	argument := req.PostForm.Get("__EVENTARGUMENT")

	switch {
	case req.PostForm.Get(SearchButton) != "":
		r.renderGrid(w, 1)
	case target == GridTarget && current.kind == "grid" && strings.HasPrefix(argument, "Page$"):
		number, err := strconv.Atoi(strings.TrimPrefix(argument, "Page$"))
		if err != nil || number < 1 || number > r.pageCount() {
			http.Error(w, "Invalid postback or callback argument.", http.StatusInternalServerError)
			return
		}
		r.renderGrid(w, number)
	case target == GridTarget && current.kind == "grid" && strings.HasPrefix(argument, "Select$"):
		row, err := strconv.Atoi(strings.TrimPrefix(argument, "Select$"))
		inmates, _ := r.page(current.page)
		if err != nil || row < 0 || row >= len(inmates) {
			http.Error(w, "Invalid postback or callback argument.", http.StatusInternalServerError)
			return
		}
		inmate := inmates[row]
		if r.misbehave(w, req, inmate.ID) {
			return
		}
		render(w, formDetailTemplate, pageData{
			Inmate:    inmate,
			ViewState: r.issue(view{kind: "detail"}),
		})
	default:
		http.Error(w, "Invalid postback or callback argument.", http.StatusInternalServerError)
	}
}

func (r *Registry) renderGrid(w http.ResponseWriter, number int) {
	inmates, _ := r.page(number)
	var pages []int
	for i := 1; i <= r.pageCount(); i++ {
		if i != number {
			pages = append(pages, i)
		}
	}
	render(w, formTemplate, pageData{
		Inmates:   inmates,
		Pages:     pages,
		Grid:      true,
		ViewState: r.issue(view{kind: "grid", page: number}),
	})
}

type pageData struct {
	Inmate    Inmate
	Inmates   []Inmate
	Next      bool
	NextPage  int
	Grid      bool
	Pages     []int
	ViewState string
}

func render(w http.ResponseWriter, tmpl *template.Template, data pageData) {
	err := tmpl.Execute(w, data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

const detailFields = `
<table class="inmateInfo">
	<tr><td>ADC Number</td><td><span id="lblInmateNumber">{{.Inmate.ID}}</span></td></tr>
	<tr><td>Name</td><td><span id="lblName">{{.Inmate.Name}}</span></td></tr>
	<tr><td>Comments</td><td><span id="lblComments">{{.Inmate.Comments}}</span></td></tr>
	<tr><td>Proceedings</td><td><span id="lblProceedings">{{.Inmate.Proceedings}}</span></td></tr>
	<tr><td>Aggravating</td><td><span id="lblAggrave">{{.Inmate.Aggravating}}</span></td></tr>
	<tr><td>Mitigating</td><td><span id="lblMitigate">{{.Inmate.Mitigating}}</span></td></tr>
	<tr><td>Opinions</td><td><span id="lblOpinion">{{.Inmate.Opinions}}</span></td></tr>
</table>
{{if .Inmate.Image}}<img id="ImgIMNO_Crime" src="{{.Inmate.Image}}" alt="photo">{{end}}`

var detailTemplate = template.Must(template.New("detail").Parse(`<!DOCTYPE html>
<html><head><title>Death Row Inmate Information</title></head>
<body>` + detailFields + `</body></html>`))

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>Death Row</title></head>
<body>
<table id="results">
{{range .Inmates}}	<tr><td><a href="DeathRowSearchInmateInfo.aspx?ID={{.ID}}">{{.Name}}</a></td></tr>
{{end}}</table>
{{if .Next}}<a id="next" href="DeathRowSearch.aspx?page={{.NextPage}}">Next</a>{{end}}
</body></html>`))

const hiddenFields = `
<input type="hidden" name="__EVENTTARGET" id="__EVENTTARGET" value="">
<input type="hidden" name="__EVENTARGUMENT" id="__EVENTARGUMENT" value="">
<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="{{.ViewState}}">
<input type="hidden" name="__VIEWSTATEGENERATOR" id="__VIEWSTATEGENERATOR" value="CA0B0334">
<input type="hidden" name="__EVENTVALIDATION" id="__EVENTVALIDATION" value="ev-{{.ViewState}}">`

var formTemplate = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html><head><title>Death Row Search</title></head>
<body>
<form method="post" action="./DeathRowSearchForm.aspx" id="form1">` + hiddenFields + `
<input type="submit" name="btnSearch" value="Search" id="btnSearch">
{{if .Grid}}<table id="gvResults">
{{range $i, $inmate := .Inmates}}	<tr><td><a href="javascript:__doPostBack('gvResults','Select${{$i}}')">{{$inmate.ID}}</a></td><td>{{$inmate.Name}}</td></tr>
{{end}}	<tr class="pager"><td colspan="2">{{range .Pages}}<a href="javascript:__doPostBack('gvResults','Page${{.}}')">{{.}}</a> {{end}}</td></tr>
</table>{{end}}
</form>
</body></html>`))

var formDetailTemplate = template.Must(template.New("form-detail").Parse(`<!DOCTYPE html>
<html><head><title>Death Row Search</title></head>
<body>
<form method="post" action="./DeathRowSearchForm.aspx" id="form1">` + hiddenFields + detailFields + `
</form>
</body></html>`))
