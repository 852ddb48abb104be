/*
handlers.go - HTTP handlers for the administrative API

PURPOSE:
  Exposes the bookkeeping engine over REST for the admin frontend.
  Handlers parse and validate input, delegate every write to the
  propagation engine, and serialize responses. Reads go straight to the
  store.

ENDPOINTS:
  Parts:
    GET    /api/parts                 List parts
    POST   /api/parts                 Create part
    GET    /api/parts/{id}            Get part
    PUT    /api/parts/{id}            Update part
    DELETE /api/parts/{id}            Delete part (409 while referenced)

  Clients:
    GET    /api/clients               List clients (with saldo)
    POST   /api/clients               Create client
    GET    /api/clients/{id}          Get client
    PUT    /api/clients/{id}          Update client
    DELETE /api/clients/{id}          Delete client (409 while referenced)
    GET    /api/clients/{id}/debts    Client's ledger entries

  Transactions:
    GET    /api/transactions?kind=    List (income/delivery/invoice/sell)
    POST   /api/transactions          Create
    GET    /api/transactions/{id}     Get with line items
    PUT    /api/transactions/{id}     Update editable fields
    DELETE /api/transactions/{id}     Delete (cascades lines + ledger)
    GET    /api/transactions/{id}/lines  List line items
    POST   /api/transactions/{id}/lines  Add line item

  Line items:
    PUT    /api/lines/{id}            Update (part, count; price frozen)
    DELETE /api/lines/{id}            Delete

  Stock:
    GET    /api/stock                 List stock rows
    POST   /api/stock/recount         Recount every part (drift repair)
    POST   /api/stock/{partID}/recount  Recount one part

  Debt ledger (read-only except freestanding adjustments):
    GET    /api/debts?kind=           List entries
    GET    /api/debts/summary         Per-kind outstanding figures
    POST   /api/debts/adjustments     Create freestanding client debt
    PUT    /api/debts/{id}            Update adjustment (409 if linked)
    DELETE /api/debts/{id}            Delete adjustment (409 if linked)

ERROR HANDLING:
  400 invalid input, 404 missing record, 409 integrity or referential
  conflict, 500 otherwise. Internal errors are logged, not leaked.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/partstore/bookkeeper/books"
	"github.com/partstore/bookkeeper/store/sqlite"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *books.Engine
	Log    *zap.Logger
}

// NewHandler creates a handler backed by the given store.
func NewHandler(store *sqlite.Store, logger *zap.Logger) *Handler {
	return &Handler{
		Store:  store,
		Engine: books.NewEngine(store),
		Log:    logger,
	}
}

// =============================================================================
// PARTS
// =============================================================================

func (h *Handler) ListParts(w http.ResponseWriter, r *http.Request) {
	parts, err := h.Store.ListParts(r.Context())
	if err != nil {
		h.writeBooksError(w, "Failed to list parts", err)
		return
	}
	dtos := make([]PartDTO, 0, len(parts))
	for _, p := range parts {
		dtos = append(dtos, toPartDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetPart(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetPart(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to get part", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Part not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPartDTO(*p))
}

func (h *Handler) CreatePart(w http.ResponseWriter, r *http.Request) {
	h.savePart(w, r, 0)
}

func (h *Handler) UpdatePart(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	h.savePart(w, r, id)
}

func (h *Handler) savePart(w http.ResponseWriter, r *http.Request, id int64) {
	var req SavePartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	price, err := parseMoney(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	p := books.Part{ID: id, Name: req.Name, Price: price}
	if err := h.Engine.SavePart(r.Context(), &p); err != nil {
		h.writeBooksError(w, "Failed to save part", err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toPartDTO(p))
}

func (h *Handler) DeletePart(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	referenced, err := h.Store.PartReferenced(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to check part references", err)
		return
	}
	if referenced {
		writeError(w, http.StatusConflict, "Part is still referenced by line items", books.ErrReferenced)
		return
	}
	if err := h.Store.DeletePart(r.Context(), id); err != nil {
		h.writeBooksError(w, "Failed to delete part", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLIENTS
// =============================================================================

func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.Store.ListClients(r.Context())
	if err != nil {
		h.writeBooksError(w, "Failed to list clients", err)
		return
	}
	dtos := make([]ClientDTO, 0, len(clients))
	for _, c := range clients {
		dtos = append(dtos, toClientDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	c, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to get client", err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toClientDTO(*c))
}

func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	h.saveClient(w, r, 0)
}

func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	h.saveClient(w, r, id)
}

func (h *Handler) saveClient(w http.ResponseWriter, r *http.Request, id int64) {
	var req SaveClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c := books.Client{ID: id, Name: req.Name, Phone: req.Phone, Memo: req.Memo, Photo: req.Photo}
	if err := h.Engine.SaveClient(r.Context(), &c); err != nil {
		h.writeBooksError(w, "Failed to save client", err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toClientDTO(c))
}

func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	referenced, err := h.Store.ClientReferenced(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to check client references", err)
		return
	}
	if referenced {
		writeError(w, http.StatusConflict, "Client is still referenced by transactions or debts", books.ErrReferenced)
		return
	}
	if err := h.Store.DeleteClient(r.Context(), id); err != nil {
		h.writeBooksError(w, "Failed to delete client", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListClientDebts(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entries, err := h.Store.ListClientDebtEntries(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to list client debts", err)
		return
	}
	dtos := make([]DebtEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toDebtEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	kind := books.TransactionKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown transaction kind", books.ErrInvalidKind)
		return
	}
	txs, err := h.Store.ListTransactions(r.Context(), kind)
	if err != nil {
		h.writeBooksError(w, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, t := range txs {
		dtos = append(dtos, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	t, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to get transaction", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	lines, err := h.Store.ListLineItems(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to list line items", err)
		return
	}
	lineDTOs := make([]LineItemDTO, 0, len(lines))
	for _, l := range lines {
		lineDTOs = append(lineDTOs, toLineItemDTO(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": toTransactionDTO(*t),
		"lines":       lineDTOs,
	})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req SaveTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	t := books.Transaction{Kind: books.TransactionKind(req.Kind), ClientID: req.ClientID}
	if ok := h.applyTransactionFields(w, &t, req); !ok {
		return
	}
	if err := h.Engine.SaveTransaction(r.Context(), &t); err != nil {
		h.writeBooksError(w, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(t))
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req SaveTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	existing, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to get transaction", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	t := *existing // kind and total are immutable through this path
	t.ClientID = req.ClientID
	if ok := h.applyTransactionFields(w, &t, req); !ok {
		return
	}
	if err := h.Engine.SaveTransaction(r.Context(), &t); err != nil {
		h.writeBooksError(w, "Failed to update transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(t))
}

func (h *Handler) applyTransactionFields(w http.ResponseWriter, t *books.Transaction, req SaveTransactionRequest) bool {
	discount, err := parseMoney(req.Discount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid discount", err)
		return false
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return false
	}
	vDate, err := parseDate(req.VDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid v_date (use YYYY-MM-DD)", err)
		return false
	}
	t.Discount = discount
	t.Amount = amount
	if !vDate.IsZero() {
		t.VDate = vDate
	}
	t.Memo = req.Memo
	return true
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteTransaction(r.Context(), id); err != nil {
		h.writeBooksError(w, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (h *Handler) ListLines(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	lines, err := h.Store.ListLineItems(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to list line items", err)
		return
	}
	dtos := make([]LineItemDTO, 0, len(lines))
	for _, l := range lines {
		dtos = append(dtos, toLineItemDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateLine(w http.ResponseWriter, r *http.Request) {
	txID, ok := idParam(w, r)
	if !ok {
		return
	}
	var req SaveLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	parent, err := h.Store.GetTransaction(r.Context(), txID)
	if err != nil {
		h.writeBooksError(w, "Failed to get transaction", err)
		return
	}
	if parent == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	price, err := parseMoney(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	vDate, err := parseDate(req.VDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid v_date (use YYYY-MM-DD)", err)
		return
	}

	l := books.LineItem{
		Kind:   books.LineKindFor(parent.Kind),
		TxID:   txID,
		PartID: req.PartID,
		PCount: req.PCount,
		Price:  price,
		VDate:  vDate,
	}
	if err := h.Engine.SaveLineItem(r.Context(), &l); err != nil {
		h.writeBooksError(w, "Failed to create line item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(l))
}

func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req SaveLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	existing, err := h.Store.GetLineItem(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to get line item", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Line item not found", nil)
		return
	}
	vDate, err := parseDate(req.VDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid v_date (use YYYY-MM-DD)", err)
		return
	}

	l := *existing // price stays frozen; the engine enforces it too
	l.PartID = req.PartID
	l.PCount = req.PCount
	if !vDate.IsZero() {
		l.VDate = vDate
	}
	if err := h.Engine.SaveLineItem(r.Context(), &l); err != nil {
		h.writeBooksError(w, "Failed to update line item", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(l))
}

func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteLineItem(r.Context(), id); err != nil {
		h.writeBooksError(w, "Failed to delete line item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// STOCK
// =============================================================================

func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.Store.ListStock(r.Context())
	if err != nil {
		h.writeBooksError(w, "Failed to list stock", err)
		return
	}
	dtos := make([]StockDTO, 0, len(stocks))
	for _, s := range stocks {
		dtos = append(dtos, toStockDTO(s))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RecountStock re-derives one part's counters; drift-repair escape hatch.
func (h *Handler) RecountStock(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "partID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid part id", err)
		return
	}
	if err := h.Engine.RecountStock(r.Context(), id); err != nil {
		h.writeBooksError(w, "Failed to recount stock", err)
		return
	}
	st, err := h.Store.GetStock(r.Context(), id)
	if err != nil {
		h.writeBooksError(w, "Failed to read recounted stock", err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, "Stock not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*st))
}

// RecountAllStock re-derives every part's counters.
func (h *Handler) RecountAllStock(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.RecountAllStock(r.Context()); err != nil {
		h.writeBooksError(w, "Failed to recount stock", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "recounted"})
}

// =============================================================================
// DEBT LEDGER
// =============================================================================

func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	kind := books.DebtKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown debt kind", books.ErrInvalidKind)
		return
	}
	entries, err := h.Store.ListDebtEntries(r.Context(), kind)
	if err != nil {
		h.writeBooksError(w, "Failed to list debt entries", err)
		return
	}
	dtos := make([]DebtEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toDebtEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DebtSummary returns the aggregate outstanding figure per ledger kind.
func (h *Handler) DebtSummary(w http.ResponseWriter, r *http.Request) {
	kinds := []books.DebtKind{
		books.DebtIncome, books.DebtDelivery, books.DebtClientDelivery,
		books.DebtClientInvoice, books.DebtSell, books.DebtClientAdjustment,
	}
	dtos := make([]DebtSummaryDTO, 0, len(kinds))
	for _, kind := range kinds {
		amount, err := h.Store.DebtAmount(r.Context(), kind)
		if err != nil {
			h.writeBooksError(w, "Failed to aggregate debts", err)
			return
		}
		dtos = append(dtos, DebtSummaryDTO{
			Kind:       string(kind),
			Type:       string(kind.Type()),
			DebtAmount: amount.String(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	h.saveAdjustment(w, r, 0)
}

func (h *Handler) UpdateAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	h.saveAdjustment(w, r, id)
}

func (h *Handler) saveAdjustment(w http.ResponseWriter, r *http.Request, id int64) {
	var req SaveAdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	total, err := parseMoney(req.Total)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total", err)
		return
	}
	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	vDate, err := parseDate(req.VDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid v_date (use YYYY-MM-DD)", err)
		return
	}

	entry := books.DebtEntry{
		ID:       id,
		Total:    total,
		Amount:   amount,
		VDate:    vDate,
		ClientID: &req.ClientID,
	}
	if err := h.Engine.SaveAdjustment(r.Context(), &entry); err != nil {
		h.writeBooksError(w, "Failed to save adjustment", err)
		return
	}
	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, toDebtEntryDTO(entry))
}

func (h *Handler) DeleteDebtEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.Engine.DeleteDebtEntry(r.Context(), id); err != nil {
		h.writeBooksError(w, "Failed to delete debt entry", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// writeBooksError maps engine errors onto HTTP statuses.
func (h *Handler) writeBooksError(w http.ResponseWriter, message string, err error) {
	switch {
	case books.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case books.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case books.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
