package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"go.uber.org/zap"

	"copy-relay/internal/store"
)

// accountWrite 为管理接口的创建/更新请求体。
type accountWrite struct {
	Email     string `json:"email"`
	IsActive  bool   `json:"is_active"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// traderView 为带单账户的对外投影，不暴露凭证。
type traderView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// followerView 为跟单账户的对外投影。
type followerView struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	TraderID int64  `json:"trader_id"`
}

func startAdminServer(ctx context.Context, accounts *store.Accounts, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /traders", func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeAccountWrite(w, r)
		if !ok {
			return
		}

		if _, err := accounts.GetTraderByEmail(r.Context(), body.Email); err == nil {
			http.Error(w, "Email already registered", http.StatusBadRequest)
			return
		} else if !errors.Is(err, store.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		trader, err := accounts.CreateTrader(r.Context(), store.Trader{
			APIKey:    body.APIKey,
			APISecret: body.APISecret,
			Email:     body.Email,
			IsActive:  body.IsActive,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, viewOfTrader(trader), logger)
	})

	mux.HandleFunc("GET /traders", func(w http.ResponseWriter, r *http.Request) {
		traders, err := accounts.ListTraders(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]traderView, 0, len(traders))
		for _, t := range traders {
			views = append(views, viewOfTrader(t))
		}
		writeJSON(w, views, logger)
	})

	mux.HandleFunc("GET /traders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		trader, err := accounts.GetTrader(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trader not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, viewOfTrader(trader), logger)
	})

	mux.HandleFunc("PUT /traders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		body, ok := decodeAccountWrite(w, r)
		if !ok {
			return
		}

		trader, err := accounts.UpdateTrader(r.Context(), store.Trader{
			ID:        id,
			APIKey:    body.APIKey,
			APISecret: body.APISecret,
			IsActive:  body.IsActive,
		})
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trader not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, viewOfTrader(trader), logger)
	})

	mux.HandleFunc("DELETE /traders/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		err := accounts.DeleteTrader(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trader not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]bool{"ok": true}, logger)
	})

	mux.HandleFunc("POST /traders/{id}/followers", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		body, ok := decodeAccountWrite(w, r)
		if !ok {
			return
		}

		follower, err := accounts.CreateFollower(r.Context(), store.Follower{
			APIKey:    body.APIKey,
			APISecret: body.APISecret,
			Email:     body.Email,
			TraderID:  id,
		})
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Trader not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, store.ErrDuplicateEmail) {
			http.Error(w, "Follower already exists", http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("Error creating follower - %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, followerView{ID: follower.ID, Email: follower.Email, TraderID: follower.TraderID}, logger)
	})

	mux.HandleFunc("GET /followers", func(w http.ResponseWriter, r *http.Request) {
		followers, err := accounts.ListFollowers(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]followerView, 0, len(followers))
		for _, f := range followers {
			views = append(views, followerView{ID: f.ID, Email: f.Email, TraderID: f.TraderID})
		}
		writeJSON(w, views, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭管理服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("管理服务异常", zap.Error(err))
		}
	}()

	logger.Info("管理接口已启动", zap.String("addr", addr))
	return nil
}

func decodeAccountWrite(w http.ResponseWriter, r *http.Request) (accountWrite, bool) {
	var body accountWrite
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return accountWrite{}, false
	}
	if _, err := mail.ParseAddress(body.Email); err != nil {
		http.Error(w, "invalid email", http.StatusBadRequest)
		return accountWrite{}, false
	}
	return body, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func viewOfTrader(t store.Trader) traderView {
	return traderView{ID: t.ID, Email: t.Email, IsActive: t.IsActive}
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入管理响应失败", zap.Error(err))
	}
}
