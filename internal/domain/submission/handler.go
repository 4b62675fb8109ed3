package submission

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mform/mform/internal/domain/form"
	"github.com/mform/mform/internal/platform/auth"
	"github.com/mform/mform/internal/platform/barcode"
	"github.com/mform/mform/internal/platform/qr"
	"github.com/mform/mform/pkg/pagination"
)

// clientCookieName identifies a browser across submissions of the same
// form for the repeat-submit guard.
const clientCookieName = "mform_client_id"

type Handler struct {
	svc     *Service
	forms   *form.Service
	decoder *barcode.Service
	qr      *qr.Renderer
	baseURL string
	log     zerolog.Logger
}

func NewHandler(svc *Service, forms *form.Service, decoder *barcode.Service, renderer *qr.Renderer, baseURL string, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, forms: forms, decoder: decoder, qr: renderer, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// RegisterPublicRoutes mounts the token-capability endpoints. The group
// carries no authentication; knowing a form's access token grants read
// and submit.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/qr/:file", h.RenderQR)
	g.POST("/decode_barcode", h.DecodeBarcode)
	g.GET("/:token", h.ShowForm)
	g.POST("/:token", h.SubmitForm)
}

// RegisterAdminRoutes mounts the staff-facing submission endpoints.
func (h *Handler) RegisterAdminRoutes(api *echo.Group) {
	g := api.Group("/submissions", auth.RequireRole("admin", "staff"))
	g.GET("", h.ListSubmissions)
	g.GET("/:id", h.GetSubmission)
	g.DELETE("/:id", h.DeleteSubmission)
	g.POST("/confirm", h.ConfirmByCode)
	g.POST("/unconfirm", h.UnconfirmByCode)

	e := api.Group("/exports", auth.RequireRole("admin", "staff"))
	e.GET("/xlsx/:formId", h.ExportFormXLSX)
	e.GET("/pdf/:formId", h.ExportFormPDF)
	e.GET("/selected/xlsx", h.ExportSelectedXLSX)
	e.GET("/selected/pdf", h.ExportSelectedPDF)
}

// -- Public form --

type componentView struct {
	*form.Component
	Options []*form.Option `json:"options,omitempty"`
}

type formView struct {
	Status     string              `json:"status"`
	Name       string              `json:"name"`
	Message    string              `json:"message,omitempty"`
	Form       *form.Form          `json:"form,omitempty"`
	Components []*componentView    `json:"components,omitempty"`
	Prefill    map[string][]string `json:"prefill,omitempty"`
}

func (h *Handler) ShowForm(c echo.Context) error {
	f, err := h.forms.GetFormByToken(c.Request().Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, form.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "form not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !f.Enabled {
		return c.JSON(http.StatusOK, formView{Status: "closed", Name: f.Name, Message: f.ClosedMessage})
	}
	h.ensureClientCookie(c)

	components, err := h.forms.ListComponents(c.Request().Context(), f.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]*componentView, 0, len(components))
	for _, comp := range components {
		v := &componentView{Component: comp}
		if comp.Kind == form.KindRadio || comp.Kind == form.KindSelect || comp.Kind == form.KindCheckbox {
			if opts, err := h.forms.ListOptions(c.Request().Context(), comp.ID); err == nil {
				v.Options = opts
			}
		}
		views = append(views, v)
	}

	return c.JSON(http.StatusOK, formView{
		Status:     "open",
		Name:       f.Name,
		Form:       f,
		Components: views,
		Prefill:    h.resolvePrefill(c),
	})
}

// resolvePrefill restores posted values for the duplicate-recovery flow:
// a stash reference issued by this process, or a self-contained base64
// JSON token.
func (h *Handler) resolvePrefill(c echo.Context) map[string][]string {
	if ref := c.QueryParam("prefill_ref"); ref != "" {
		if values := h.svc.Stash().Get(ref); values != nil {
			return values
		}
	}
	token := c.QueryParam("prefill")
	if token == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(token)
	}
	if err != nil {
		return nil
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil
	}
	values := make(map[string][]string, len(flat))
	for k, v := range flat {
		values[k] = []string{v}
	}
	return values
}

func (h *Handler) ensureClientCookie(c echo.Context) string {
	if cookie, err := c.Cookie(clientCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	c.SetCookie(&http.Cookie{
		Name:     clientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// -- Submit --

type multipartFiles struct {
	form *multipart.Form
}

func (m multipartFiles) File(key string) *FileUpload {
	headers := m.form.File[key]
	if len(headers) == 0 {
		return nil
	}
	head := headers[0]
	if head.Filename == "" && head.Size == 0 {
		return nil
	}
	return &FileUpload{
		FileName:    head.Filename,
		ContentType: head.Header.Get("Content-Type"),
		Open:        func() (io.ReadCloser, error) { return head.Open() },
	}
}

func (h *Handler) SubmitForm(c echo.Context) error {
	token := c.Param("token")
	f, err := h.forms.GetFormByToken(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, form.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "form not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !f.Enabled {
		return c.JSON(http.StatusOK, formView{Status: "closed", Name: f.Name, Message: f.ClosedMessage})
	}

	values, files, err := parsePostedValues(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clientID := h.ensureClientCookie(c)

	sub, warnings, err := h.svc.Submit(c.Request().Context(), f, values, files, clientID, c.Request().UserAgent())
	if err != nil {
		return h.submitFailure(c, token, f, values, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"status":     "ok",
		"submission": sub.Name,
		"message":    f.SuccessMessage,
		"warnings":   warnings,
	})
}

func parsePostedValues(c echo.Context) (Values, FileSource, error) {
	contentType := c.Request().Header.Get(echo.HeaderContentType)
	if strings.HasPrefix(contentType, echo.MIMEMultipartForm) {
		mf, err := c.MultipartForm()
		if err != nil {
			return nil, nil, fmt.Errorf("parse multipart body: %w", err)
		}
		values := make(Values, len(mf.Value))
		for k, v := range mf.Value {
			values[k] = v
		}
		return values, multipartFiles{form: mf}, nil
	}
	params, err := c.FormParams()
	if err != nil {
		return nil, nil, fmt.Errorf("parse form body: %w", err)
	}
	return Values(params), NoFiles{}, nil
}

// submitFailure translates the assembly failure taxonomy into the page
// variants the client renders.
func (h *Handler) submitFailure(c echo.Context, token string, f *form.Form, values Values, err error) error {
	var repeat *RepeatFailure
	if errors.As(err, &repeat) {
		return c.JSON(http.StatusConflict, echo.Map{
			"status": "repeat_blocked", "message": repeat.Error(),
		})
	}
	var dup *DuplicateFailure
	if errors.As(err, &dup) {
		ref := h.svc.Stash().Put(values)
		keepURL := fmt.Sprintf("/mform/%s", token)
		if ref != "" {
			keepURL = fmt.Sprintf("/mform/%s?prefill_ref=%s", token, ref)
		}
		return c.JSON(http.StatusConflict, echo.Map{
			"status":           "duplicate",
			"message":          f.DuplicateMessage,
			"fields":           dup.Fields,
			"return_url_keep":  keepURL,
			"return_url_clear": fmt.Sprintf("/mform/%s", token),
		})
	}
	var invalid *ValidationFailure
	if errors.As(err, &invalid) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"status": "invalid", "field": invalid.Key, "label": invalid.Label,
			"error": invalid.Message, "values": values,
		})
	}
	var blocked *PolicyBlockFailure
	if errors.As(err, &blocked) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"status": "blocked", "error": blocked.Message, "values": values,
		})
	}
	h.log.Error().Err(err).Str("form_id", f.ID.String()).Msg("submission failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "submission failed")
}

// -- QR --

// RenderQR serves the form's fill-in URL as a QR image. The route matches
// `<token>.png` and `<token>.svg`; the extension is split here because the
// router has no suffix patterns.
func (h *Handler) RenderQR(c echo.Context) error {
	file := c.Param("file")
	ext := ""
	token := file
	if i := strings.LastIndexByte(file, '.'); i >= 0 {
		token, ext = file[:i], file[i+1:]
	}
	if ext != "png" && ext != "svg" {
		return echo.NewHTTPError(http.StatusNotFound, "unsupported image format")
	}
	f, err := h.forms.GetFormByToken(c.Request().Context(), token)
	if err != nil {
		if errors.Is(err, form.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "form not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	target := fmt.Sprintf("%s/mform/%s", h.baseURL, f.AccessToken)

	if ext == "svg" {
		data, err := h.qr.SVG(target)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "render failed")
		}
		c.Response().Header().Set("Cache-Control", "public, max-age=600")
		return c.Blob(http.StatusOK, "image/svg+xml", data)
	}

	data, placeholder := h.qr.PNG(target, f.QRDescription)
	if placeholder {
		c.Response().Header().Set("Cache-Control", "no-store")
	} else {
		c.Response().Header().Set("Cache-Control", "public, max-age=600")
	}
	return c.Blob(http.StatusOK, "image/png", data)
}

// -- Barcode decode --

type decodeRequest struct {
	ImageData string `json:"image_data"`
	Deep      bool   `json:"deep"`
	Prefer1D  bool   `json:"prefer_1d"`
}

// maxDecodeBodyBytes is the transport ceiling for one decode request.
// Oversized uploads answer with the structured reason, not an HTTP error.
const maxDecodeBodyBytes = 6 * 1024 * 1024

func (h *Handler) DecodeBarcode(c echo.Context) error {
	if !h.decoder.Allow(decodeClientKey(c)) {
		return c.JSON(http.StatusTooManyRequests, barcode.Outcome{OK: false, Reason: "rate_limited"})
	}
	if c.Request().ContentLength > maxDecodeBodyBytes {
		return c.JSON(http.StatusOK, barcode.Outcome{OK: false, Reason: barcode.ReasonPayloadTooLarge})
	}
	var req decodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out := h.decoder.Decode(req.ImageData, barcode.Options{Deep: req.Deep, Prefer1D: req.Prefer1D})
	return c.JSON(http.StatusOK, out)
}

// decodeClientKey buckets decode traffic by the first forwarded hop, or
// the socket peer when nothing is forwarded.
func decodeClientKey(c echo.Context) string {
	if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	addr := c.Request().RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return addr[:i]
	}
	return addr
}

// -- Admin --

type submissionListItem struct {
	*Submission
	Preview string `json:"preview"`
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	formID, err := uuid.Parse(c.QueryParam("form_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "form_id is required")
	}
	page := pagination.FromContext(c)
	subs, total, err := h.svc.ListByForm(c.Request().Context(), formID, page.Limit, page.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items := make([]*submissionListItem, 0, len(subs))
	for _, sub := range subs {
		items = append(items, &submissionListItem{Submission: sub, Preview: sub.AnswerPreview()})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, page.Limit, page.Offset))
}

func (h *Handler) GetSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid submission id")
	}
	sub, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "submission not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) DeleteSubmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid submission id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "submission not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type confirmRequest struct {
	Code   string `json:"code"`
	FormID string `json:"form_id,omitempty"`
}

func (r *confirmRequest) formID() (*uuid.UUID, error) {
	if r.FormID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(r.FormID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handler) ConfirmByCode(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	formID, err := req.formID()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	by := auth.UserIDFromContext(c.Request().Context())
	sub, err := h.svc.ConfirmByCode(c.Request().Context(), formID, req.Code, by)
	if err != nil {
		return confirmFailure(err)
	}
	return c.JSON(http.StatusOK, sub)
}

func (h *Handler) UnconfirmByCode(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	formID, err := req.formID()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	sub, err := h.svc.UnconfirmByCode(c.Request().Context(), formID, req.Code)
	if err != nil {
		return confirmFailure(err)
	}
	return c.JSON(http.StatusOK, sub)
}

func confirmFailure(err error) error {
	switch {
	case errors.Is(err, ErrCodeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no submission matches this code")
	case errors.Is(err, ErrCodeConflict):
		return echo.NewHTTPError(http.StatusConflict, "code matches more than one submission")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// -- Exports --

func (h *Handler) ExportFormXLSX(c echo.Context) error {
	f, components, subs, err := h.loadFormExport(c)
	if err != nil {
		return err
	}
	data, buildErr := BuildFormXLSX(components, subs, time.Local)
	if buildErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, buildErr.Error())
	}
	return serveDownload(c, f.Name+"_submissions.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *Handler) ExportFormPDF(c echo.Context) error {
	f, _, subs, err := h.loadFormExport(c)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no submissions to export")
	}
	names := map[uuid.UUID]string{f.ID: f.Name}
	file, buildErr := buildPDFExport(c.QueryParam("mode"), subs, names)
	if buildErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, buildErr.Error())
	}
	return serveDownload(c, file.Name, file.ContentType, file.Data)
}

func (h *Handler) ExportSelectedXLSX(c echo.Context) error {
	subs, names, err := h.loadSelected(c)
	if err != nil {
		return err
	}
	data, buildErr := BuildSelectedXLSX(subs, names, time.Local)
	if buildErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, buildErr.Error())
	}
	return serveDownload(c, "submissions_selected.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *Handler) ExportSelectedPDF(c echo.Context) error {
	subs, names, err := h.loadSelected(c)
	if err != nil {
		return err
	}
	file, buildErr := buildPDFExport(c.QueryParam("mode"), subs, names)
	if buildErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, buildErr.Error())
	}
	return serveDownload(c, file.Name, file.ContentType, file.Data)
}

func buildPDFExport(mode string, subs []*Submission, names map[uuid.UUID]string) (*ExportFile, error) {
	if mode == "single" {
		return BuildSinglePDFs(subs, names, time.Local)
	}
	return BuildMergedPDF(subs, names, time.Local)
}

func (h *Handler) loadFormExport(c echo.Context) (*form.Form, []*form.Component, []*Submission, error) {
	formID, err := uuid.Parse(c.Param("formId"))
	if err != nil {
		return nil, nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid form id")
	}
	ctx := c.Request().Context()
	f, err := h.forms.GetForm(ctx, formID)
	if err != nil {
		if errors.Is(err, form.ErrNotFound) {
			return nil, nil, nil, echo.NewHTTPError(http.StatusNotFound, "form not found")
		}
		return nil, nil, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	components, err := h.forms.ListComponents(ctx, formID)
	if err != nil {
		return nil, nil, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	subs, err := h.svc.ListWithLines(ctx, &formID, nil)
	if err != nil {
		return nil, nil, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return f, components, subs, nil
}

func (h *Handler) loadSelected(c echo.Context) ([]*Submission, map[uuid.UUID]string, error) {
	raw := strings.Split(c.QueryParam("ids"), ",")
	var ids []uuid.UUID
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid submission id %q", part))
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, "ids is required")
	}
	ctx := c.Request().Context()
	subs, err := h.svc.ListWithLines(ctx, nil, ids)
	if err != nil {
		return nil, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if len(subs) == 0 {
		return nil, nil, echo.NewHTTPError(http.StatusNotFound, "no submissions match the selection")
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].SubmitDate.Before(subs[j].SubmitDate) })

	names := make(map[uuid.UUID]string)
	for _, sub := range subs {
		if _, ok := names[sub.FormID]; ok {
			continue
		}
		f, err := h.forms.GetForm(ctx, sub.FormID)
		if err != nil {
			names[sub.FormID] = ""
			continue
		}
		names[sub.FormID] = f.Name
	}
	return subs, names, nil
}

func serveDownload(c echo.Context, name, contentType string, data []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Blob(http.StatusOK, contentType, data)
}
