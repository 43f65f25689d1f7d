package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"secure.mail/config"
	"secure.mail/internal/logging"
	"secure.mail/internal/mailbox"
	"secure.mail/internal/models"
	"secure.mail/internal/security"
	"secure.mail/internal/selfdestruct"
	"secure.mail/internal/signing"
	"secure.mail/internal/wallet"
)

const maxBodyBytes = 1 << 20

// Mailbox lists delivered messages per wallet.
type Mailbox interface {
	Inbox(ctx context.Context, address string) ([]models.Email, error)
	Outbox(ctx context.Context, address string) ([]models.Email, error)
}

// Wallets resolves the locally held wallets that act for API callers.
type Wallets interface {
	Get(address string) (*wallet.Identity, error)
	Generate() (*wallet.Identity, error)
}

type Handler struct {
	manager *security.Manager
	mailbox Mailbox
	wallets Wallets
	config  *config.Config
	log     *zerolog.Logger
}

func NewHandler(m *security.Manager, mb Mailbox, w Wallets, cfg *config.Config, log *zerolog.Logger) *Handler {
	return &Handler{
		manager: m,
		mailbox: mb,
		wallets: w,
		config:  cfg,
		log:     logging.Component(log, "api"),
	}
}

type ComposeRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	Subject string `json:"subject,omitempty"`
	// Preset names a security preset; the configured default applies when
	// both Preset and Config are empty.
	Preset string                 `json:"preset,omitempty"`
	Config *models.SecurityConfig `json:"config,omitempty"`
	// SelfDestruct optionally overrides the preset's self-destruct policy
	// with a named shortcut such as "readOnce" or "24hours".
	SelfDestruct string           `json:"selfDestruct,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	Attachments  []map[string]any `json:"attachments,omitempty"`
}

type ComposeResponse struct {
	ID            string                `json:"id"`
	URL           string                `json:"url"`
	DeliveryRef   string                `json:"txHash"`
	SecurityLevel models.SecurityLevel  `json:"securityLevel"`
	Message       *models.SecureMessage `json:"message"`
}

type ReadRequest struct {
	Reader string `json:"reader"`
}

type MessageResponse struct {
	Message *models.SecureMessage `json:"message"`
	Badge   signing.TrustBadge    `json:"badge"`
}

type StatusResponse struct {
	ID                string                     `json:"id"`
	Exists            bool                       `json:"exists"`
	Destroyed         bool                       `json:"destroyed"`
	Reason            string                     `json:"reason,omitempty"`
	SelfDestruct      *models.SelfDestructRecord `json:"selfDestruct,omitempty"`
	RemainingReadable string                     `json:"remaining,omitempty"`
}

type WalletResponse struct {
	Address    string `json:"address"`
	SigningKey string `json:"signingKey"`
	BoxKey     string `json:"boxKey"`
}

type PresetsResponse struct {
	Security     map[string]models.SecurityConfig     `json:"security"`
	SelfDestruct map[string]models.SelfDestructConfig `json:"selfDestruct"`
	Default      string                               `json:"default"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Presets(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, PresetsResponse{
		Security:     models.Presets(),
		SelfDestruct: selfdestruct.Presets(),
		Default:      h.config.Security.DefaultPreset,
	})
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	id, err := h.wallets.Generate()
	if err != nil {
		h.log.Error().Err(err).Msg("wallet generation failed")
		h.error(w, http.StatusInternalServerError, "wallet generation failed")
		return
	}
	pub := id.Public()
	h.json(w, http.StatusCreated, WalletResponse{
		Address:    pub.Address,
		SigningKey: pub.SigningKeyHex(),
		BoxKey:     hex.EncodeToString(pub.BoxKey[:]),
	})
}

func (h *Handler) resolveConfig(req ComposeRequest) (models.SecurityConfig, error) {
	var cfg models.SecurityConfig
	switch {
	case req.Config != nil:
		cfg = *req.Config
	default:
		name := req.Preset
		if name == "" {
			name = h.config.Security.DefaultPreset
		}
		var err error
		if cfg, err = models.Preset(name); err != nil {
			return cfg, err
		}
	}

	if req.SelfDestruct != "" {
		sd, ok := selfdestruct.Presets()[req.SelfDestruct]
		if !ok {
			return cfg, models.Validationf("unknown self-destruct preset %q", req.SelfDestruct)
		}
		cfg.SelfDestruct = sd
	}
	return cfg, nil
}

// requestMetadata captures what the transport knows about the client so
// the sanitizer can strip it before anything is stored.
func requestMetadata(r *http.Request, extra map[string]any) map[string]any {
	headers := make(map[string]any, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	md := map[string]any{
		"headers":    headers,
		"remoteAddr": r.RemoteAddr,
		"userAgent":  r.UserAgent(),
		"requestId":  requestIDFrom(r.Context()),
	}
	for k, v := range extra {
		if _, taken := md[k]; !taken {
			md[k] = v
		}
	}
	return md
}

func (h *Handler) ComposeMessage(w http.ResponseWriter, r *http.Request) {
	var req ComposeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Content == "" {
		h.error(w, http.StatusBadRequest, "content is required")
		return
	}

	sender, err := h.wallets.Get(req.From)
	if err != nil {
		h.error(w, http.StatusBadRequest, "unknown sender wallet")
		return
	}

	cfg, err := h.resolveConfig(req)
	if err != nil {
		h.handleError(w, err)
		return
	}

	out, err := h.manager.CreateSecureMessage(r.Context(), security.ComposeRequest{
		Content:       req.Content,
		Subject:       req.Subject,
		RecipientAddr: req.To,
		SenderAddr:    req.From,
		Sender:        sender,
		Config:        cfg,
		Metadata:      requestMetadata(r, req.Metadata),
		Attachments:   req.Attachments,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	h.json(w, http.StatusCreated, ComposeResponse{
		ID:            out.Message.ID,
		URL:           h.config.Server.BaseURL + "/api/messages/" + out.Message.ID,
		DeliveryRef:   out.DeliveryRef,
		SecurityLevel: out.Message.SecurityLevel,
		Message:       out.Message.Redacted(),
	})
}

// load fetches a message and turns a missing one into the destruction
// reason when it was destroyed.
func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*models.SecureMessage, bool) {
	id := chi.URLParam(r, "id")
	msg, err := h.manager.Load(r.Context(), id)
	if errors.Is(err, mailbox.ErrNotFound) {
		if _, tomb, terr := h.manager.Status(r.Context(), id); terr == nil && tomb != nil {
			err = &models.UnreadableError{Reason: tomb.Reason.Message(), Err: tomb.Reason.Err()}
		}
	}
	if err != nil {
		h.handleError(w, err)
		return nil, false
	}
	return msg, true
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.load(w, r)
	if !ok {
		return
	}
	h.json(w, http.StatusOK, MessageResponse{
		Message: msg.Redacted(),
		Badge:   signing.Badge(msg.VerificationStatus),
	})
}

func (h *Handler) ReadMessage(w http.ResponseWriter, r *http.Request) {
	var req ReadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reader, err := h.wallets.Get(req.Reader)
	if err != nil {
		h.error(w, http.StatusBadRequest, "unknown reader wallet")
		return
	}

	msg, ok := h.load(w, r)
	if !ok {
		return
	}

	res, err := h.manager.ReadSecureMessage(r.Context(), msg, reader)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.json(w, http.StatusOK, res)
}

func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.load(w, r)
	if !ok {
		return
	}
	h.json(w, http.StatusOK, h.manager.GenerateSecurityReport(msg))
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, tomb, err := h.manager.Status(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}

	status := StatusResponse{ID: id}
	switch {
	case tomb != nil:
		status.Destroyed = true
		status.Reason = tomb.Reason.Message()
	case rec != nil:
		status.Exists = true
		status.SelfDestruct = rec
		if rec.ExpiresAt > 0 {
			status.RemainingReadable = selfdestruct.FormatRemaining(rec.TimeRemaining)
		}
	default:
		_, err := h.manager.Load(r.Context(), id)
		switch {
		case err == nil:
			status.Exists = true
		case !errors.Is(err, mailbox.ErrNotFound):
			h.handleError(w, err)
			return
		}
	}
	h.json(w, http.StatusOK, status)
}

func (h *Handler) DestroyMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Destroy(r.Context(), id); err != nil {
		h.handleError(w, err)
		return
	}
	h.json(w, http.StatusOK, map[string]string{"id": id, "status": "destroyed"})
}

func (h *Handler) OpenVault(w http.ResponseWriter, r *http.Request) {
	owner, err := h.wallets.Get(r.URL.Query().Get("owner"))
	if err != nil {
		h.error(w, http.StatusBadRequest, "unknown owner wallet")
		return
	}
	msg, err := h.manager.OpenVault(r.Context(), chi.URLParam(r, "id"), owner)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.json(w, http.StatusOK, msg.Redacted())
}

func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	h.listMailbox(w, r, h.mailbox.Inbox)
}

func (h *Handler) Outbox(w http.ResponseWriter, r *http.Request) {
	h.listMailbox(w, r, h.mailbox.Outbox)
}

func (h *Handler) listMailbox(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]models.Email, error)) {
	address := chi.URLParam(r, "address")
	if err := wallet.ValidateAddress(address); err != nil {
		h.handleError(w, err)
		return
	}
	emails, err := list(r.Context(), address)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.json(w, http.StatusOK, map[string]any{"address": address, "emails": emails})
}

func (h *Handler) json(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

func (h *Handler) error(w http.ResponseWriter, status int, message string) {
	h.json(w, status, ErrorResponse{Error: message})
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var unreadable *models.UnreadableError
	message := err.Error()
	if errors.As(err, &unreadable) {
		message = unreadable.Reason
	}

	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrUnsupportedConfig),
		errors.Is(err, wallet.ErrUnknownAddress):
		h.error(w, http.StatusBadRequest, message)
	case errors.Is(err, mailbox.ErrNotFound), errors.Is(err, security.ErrNotInVault),
		errors.Is(err, selfdestruct.ErrNotTracked):
		h.error(w, http.StatusNotFound, "message not found")
	case errors.Is(err, models.ErrExpired), errors.Is(err, models.ErrReadLimit), errors.Is(err, models.ErrDestroyed):
		h.error(w, http.StatusGone, message)
	case errors.Is(err, models.ErrCrypto):
		h.error(w, http.StatusUnprocessableEntity, message)
	default:
		h.log.Error().Err(err).Msg("request failed")
		h.error(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
