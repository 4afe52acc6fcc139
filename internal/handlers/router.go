package handlers

import "net/http"

func NewRouter(v1Handler *V1Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthCheck)
	mux.HandleFunc("/v1/upload", v1Handler.Upload)
	mux.HandleFunc("/v1/upload/status", v1Handler.UploadStatus)
	mux.HandleFunc("/v1/path/add", v1Handler.AddPathToWatch)
	mux.HandleFunc("/v1/path/remove", v1Handler.RemovePathFromWatch)
	return mux
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
