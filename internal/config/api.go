package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// ConfigAPI provides read-only HTTP endpoints over the running configuration
type ConfigAPI struct {
	cfg    *Config
	mu     sync.RWMutex
	router *mux.Router
}

func NewConfigAPI(cfg *Config) *ConfigAPI {
	api := &ConfigAPI{
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	api.routes()
	return api
}

func (api *ConfigAPI) Router() *mux.Router {
	return api.router
}

func (api *ConfigAPI) routes() {
	api.router.HandleFunc("/configure", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/validate", api.validateConfig).Methods("POST")
	api.router.HandleFunc("/configure/models", api.listModels).Methods("GET")
	api.router.HandleFunc("/configure/models/{capability}", api.getModel).Methods("GET")
	api.router.HandleFunc("/configure/risk", api.getRisk).Methods("GET")
}

func (api *ConfigAPI) getConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	writeJSON(w, api.safeConfigCopy())
}

func (api *ConfigAPI) validateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{"valid": true, "message": "configuration is valid"})
}

func (api *ConfigAPI) listModels(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	safe := api.safeConfigCopy()
	models := map[string]interface{}{}
	for name, m := range safe.Models.byCapability() {
		models[name] = map[string]interface{}{
			"enabled":  m.Provider != "",
			"provider": m.Provider,
			"endpoint": m.Endpoint,
			"model":    m.Model,
		}
	}
	writeJSON(w, models)
}

func (api *ConfigAPI) getModel(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	capability := mux.Vars(r)["capability"]
	m, ok := api.safeConfigCopy().Models.byCapability()[capability]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown capability: %s", capability), http.StatusNotFound)
		return
	}
	writeJSON(w, m)
}

func (api *ConfigAPI) getRisk(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	writeJSON(w, api.cfg.Risk)
}

func (m ModelsConfig) byCapability() map[string]EndpointConfig {
	return map[string]EndpointConfig{
		"segment": m.Segment,
		"rewrite": m.Rewrite,
		"risk":    m.Risk,
		"answer":  m.Answer,
	}
}

func (api *ConfigAPI) safeConfigCopy() *Config {
	bytes, _ := json.Marshal(api.cfg)
	var copyCfg Config
	json.Unmarshal(bytes, &copyCfg)
	if copyCfg.Archive.AccessKey != "" {
		copyCfg.Archive.AccessKey = "***"
	}
	if copyCfg.Archive.SecretKey != "" {
		copyCfg.Archive.SecretKey = "***"
	}
	if copyCfg.Auth.Token != "" {
		copyCfg.Auth.Token = "***"
	}
	if copyCfg.Sessions.Redis.Password != "" {
		copyCfg.Sessions.Redis.Password = "***"
	}
	for _, m := range []*EndpointConfig{&copyCfg.Models.Segment, &copyCfg.Models.Rewrite, &copyCfg.Models.Risk, &copyCfg.Models.Answer} {
		if m.APIKey != "" {
			m.APIKey = "***"
		}
	}
	return &copyCfg
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
