package main

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultPort       = "8000"
	defaultLatencyMs  = "50"
	defaultTokenTTL   = "1h"
	defaultInviteTTL  = "2h"
	signingKey        = "genascope-dev-signing-key"
	simplifiedInvites = "simplified"
)

type user struct {
	ID        int    `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	AccountID string `json:"account_id,omitempty"`
	password  string
}

// testUsers are the accounts the mock accepts. Every password is "password".
var testUsers = map[string]user{
	"clinician@example.com":  {ID: 1, Email: "clinician@example.com", Name: "Dr. Clinician", Role: "clinician", AccountID: "acct-1", password: "password"},
	"physician@example.com":  {ID: 2, Email: "physician@example.com", Name: "Dr. Physician", Role: "physician", AccountID: "acct-1", password: "password"},
	"admin@example.com":      {ID: 3, Email: "admin@example.com", Name: "Account Admin", Role: "admin", AccountID: "acct-1", password: "password"},
	"superadmin@example.com": {ID: 4, Email: "superadmin@example.com", Name: "Super Admin", Role: "super_admin", password: "password"},
}

// Invite tokens with fixed behaviour; any other non-empty token is valid.
var (
	expiredInvites = map[string]bool{"EXPIRED123": true}
	missingInvites = map[string]bool{"UNKNOWN999": true}
	// shortInvites issue a one-minute session to exercise the expired notice.
	shortInvites = map[string]bool{"SHORT123": true}
)

var (
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	tokenTTL  = getEnvDuration("TOKEN_TTL", defaultTokenTTL)
	inviteTTL = getEnvDuration("INVITE_TTL", defaultInviteTTL)

	issuedMu sync.RWMutex
	issued   = map[string]user{}
)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("GET /health", handleHealth)
	http.HandleFunc("POST /auth/token", withLatency(handleToken))
	http.HandleFunc("GET /auth/me", withLatency(handleMe))
	http.HandleFunc("POST /invites/verify", withLatency(handleVerifyInvite))
	http.HandleFunc("POST /auth/simplified-access", withLatency(handleSimplifiedAccess))
	http.HandleFunc("/api/", withLatency(handleAPI))

	log.Printf("mock genascope backend starting on port %s (latency %dms, token ttl %s)", port, latencyMs, tokenTTL)
	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func withLatency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(latencyMs) * time.Millisecond)
		log.Printf("incoming request: %s %s", r.Method, r.URL.Path)
		next(w, r)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "genascope-backend-mock",
	})
}

func handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		sendDetail(w, "Invalid form body", http.StatusBadRequest)
		return
	}
	u, ok := testUsers[strings.ToLower(r.PostForm.Get("username"))]
	if !ok || u.password != r.PostForm.Get("password") {
		sendDetail(w, "Incorrect username or password", http.StatusUnauthorized)
		return
	}

	raw := mint(map[string]any{
		"sub":         strconv.Itoa(u.ID),
		"role":        u.Role,
		"email":       u.Email,
		"name":        u.Name,
		"access_type": "regular",
	}, tokenTTL)
	issuedMu.Lock()
	issued[raw] = u
	issuedMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"access_token": raw, "token_type": "bearer"})
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	issuedMu.RLock()
	u, ok := issued[raw]
	issuedMu.RUnlock()
	if !ok {
		sendDetail(w, "Could not validate credentials", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func handleVerifyInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteToken string `json:"invite_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InviteToken == "" {
		sendDetail(w, "invite_token is required", http.StatusUnprocessableEntity)
		return
	}
	switch {
	case missingInvites[req.InviteToken]:
		sendDetail(w, "Invite not found", http.StatusNotFound)
	case expiredInvites[req.InviteToken]:
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error_message": "This invitation has expired"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":         true,
			"invite_id":     "inv-" + req.InviteToken,
			"patient_name":  "Pat Doe",
			"provider_name": "Dr. Clinician",
			"expires_at":    time.Now().Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339),
		})
	}
}

func handleSimplifiedAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteToken    string `json:"invite_token"`
		FirstName      string `json:"first_name"`
		LastName       string `json:"last_name"`
		DateOfBirth    string `json:"date_of_birth"`
		AgreeToTerms   bool   `json:"agree_to_terms"`
		AgreeToPrivacy bool   `json:"agree_to_privacy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendDetail(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if missingInvites[req.InviteToken] || expiredInvites[req.InviteToken] {
		sendDetail(w, "Invalid or expired invitation", http.StatusBadRequest)
		return
	}
	if !req.AgreeToTerms || !req.AgreeToPrivacy {
		sendDetail(w, "Terms and privacy policy must be accepted", http.StatusUnprocessableEntity)
		return
	}

	ttl := inviteTTL
	if shortInvites[req.InviteToken] {
		ttl = time.Minute
	}
	raw := mint(map[string]any{
		"patient_id":  patientID(req.InviteToken),
		"role":        "patient",
		"name":        strings.TrimSpace(req.FirstName + " " + req.LastName),
		"invite_id":   "inv-" + req.InviteToken,
		"access_type": simplifiedInvites,
	}, ttl)
	writeJSON(w, http.StatusOK, map[string]string{"access_token": raw, "token_type": "bearer"})
}

// handleAPI echoes proxied calls so the gateway's forwarding can be inspected.
func handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		sendDetail(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	if r.URL.Query().Get("fail") == "true" {
		sendDetail(w, "Simulated backend failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  r.URL.RawQuery,
		"items":  []any{},
	})
}

// mint builds an HS256 JWT carrying claims plus iat and exp.
func mint(claims map[string]any, ttl time.Duration) string {
	now := time.Now()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	claims["jti"] = hex.EncodeToString(nonce)

	header, _ := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload, _ := json.Marshal(claims)
	enc := base64.RawURLEncoding
	signingInput := enc.EncodeToString(header) + "." + enc.EncodeToString(payload)

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(signingInput))
	return signingInput + "." + enc.EncodeToString(mac.Sum(nil))
}

func patientID(inviteToken string) string {
	sum := sha256.Sum256([]byte(inviteToken))
	return "p-" + hex.EncodeToString(sum[:4])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendDetail(w http.ResponseWriter, detail string, code int) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		n, _ = strconv.Atoi(defaultValue)
	}
	return n
}

func getEnvDuration(key, defaultValue string) time.Duration {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
