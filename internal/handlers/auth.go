package handlers

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/auth"
	"github.com/maelstrand/winetrade/internal/httpx"
	"github.com/maelstrand/winetrade/internal/models"
)

type AuthHandler struct{ DB *gorm.DB }

func NewAuthHandler(db *gorm.DB) *AuthHandler { return &AuthHandler{DB: db} }

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/signup", h.signup)
	mux.HandleFunc("/login", h.login)
	mux.HandleFunc("/logout", h.logout)
}

// signup creates the user together with its company in one request: the
// marketplace has no self-standing users, every account belongs to a
// restaurant, supplier or importer.
func (h *AuthHandler) signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		Name        string `json:"name,omitempty"`
		CompanyName string `json:"company_name"`
		CompanyKind string `json:"company_kind"`
		OrgNumber   string `json:"org_number,omitempty"`
		City        string `json:"city,omitempty"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" || req.CompanyName == "" {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed",
			map[string]string{"email": "required", "password": "required", "company_name": "required"})
		return
	}
	switch req.CompanyKind {
	case models.CompanySupplier, models.CompanyRestaurant, models.CompanyImporter:
	default:
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"company_kind": "invalid"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
		return
	}
	var user models.User
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		company := models.Company{Name: req.CompanyName, Kind: req.CompanyKind, OrgNumber: req.OrgNumber, City: req.City}
		if err := tx.Create(&company).Error; err != nil {
			return err
		}
		user = models.User{Email: req.Email, Password: string(hash), Name: req.Name, CompanyID: company.ID}
		return tx.Create(&user).Error
	})
	if err != nil {
		httpx.JSONError(w, http.StatusConflict, "signup_failed", nil)
		return
	}
	auth.CreateSession(w, user.ID)
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": user.ID, "email": user.Email})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	var user models.User
	err := h.DB.Where("email = ?", strings.TrimSpace(strings.ToLower(req.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
			return
		}
		httpx.JSONError(w, http.StatusInternalServerError, "storage_error", nil)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}
	auth.CreateSession(w, user.ID)
	httpx.JSON(w, http.StatusOK, map[string]any{"id": user.ID, "email": user.Email})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
