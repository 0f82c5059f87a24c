package playlist

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/upmpd-go/upmpd-go/internal/api"
	"github.com/upmpd-go/upmpd-go/internal/apperrors"
)

// RegisterRoutes wires the playlist action surface to the router. Each
// route maps one OpenHome Playlist action onto the service; errors flow
// through apperrors so NotActive comes back as 409 and unresolvable ids
// as 500, matching the SOAP fault mapping.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodPost, "/v1/playlist/play", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Play(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/pause", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Pause(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/stop", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Stop(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/next", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Next(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/previous", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Previous(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodGet, "/v1/playlist/repeat", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"repeat": service.Repeat()})
	}))

	router.Method(http.MethodPut, "/v1/playlist/repeat", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var input struct {
			Repeat *bool `json:"repeat"`
		}
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Repeat == nil {
			return apperrors.NewInvalidParamError("playlist: repeat must be a boolean")
		}
		if err := service.SetRepeat(r.Context(), *input.Repeat); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"repeat": *input.Repeat})
	}))

	router.Method(http.MethodGet, "/v1/playlist/shuffle", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"shuffle": service.Shuffle()})
	}))

	router.Method(http.MethodPut, "/v1/playlist/shuffle", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var input struct {
			Shuffle *bool `json:"shuffle"`
		}
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.Shuffle == nil {
			return apperrors.NewInvalidParamError("playlist: shuffle must be a boolean")
		}
		if err := service.SetShuffle(r.Context(), *input.Shuffle); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"shuffle": *input.Shuffle})
	}))

	router.Method(http.MethodPost, "/v1/playlist/seek-second-absolute", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		seconds, err := intField(r, "seconds")
		if err != nil {
			return err
		}
		if err := service.SeekSecondAbsolute(r.Context(), seconds); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/seek-second-relative", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		seconds, err := intField(r, "seconds")
		if err != nil {
			return err
		}
		if err := service.SeekSecondRelative(r.Context(), seconds); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/seek-id/{id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := idParam(r)
		if err != nil {
			return err
		}
		if err := service.SeekID(r.Context(), id); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/seek-index/{index}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			return apperrors.NewInvalidParamError("playlist: index must be an integer")
		}
		if err := service.SeekIndex(r.Context(), index); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodGet, "/v1/playlist/transport-state", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"transport_state": service.TransportState()})
	}))

	router.Method(http.MethodGet, "/v1/playlist/id", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"id": service.Id()})
	}))

	router.Method(http.MethodGet, "/v1/playlist/tracks/{id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := idParam(r)
		if err != nil {
			return err
		}
		track, err := service.Read(id)
		if err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, formatTrack(track))
	}))

	router.Method(http.MethodGet, "/v1/playlist/tracks", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		ids, err := idList(r.URL.Query().Get("ids"))
		if err != nil {
			return err
		}
		tracks, err := service.ReadList(ids)
		if err != nil {
			return err
		}
		formatted := make([]map[string]any, 0, len(tracks))
		for _, track := range tracks {
			formatted = append(formatted, formatTrack(track))
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"tracks": formatted})
	}))

	router.Method(http.MethodPost, "/v1/playlist/tracks", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var input struct {
			AfterID  int32  `json:"after_id"`
			URI      string `json:"uri"`
			Metadata string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return apperrors.NewInvalidParamError("playlist: malformed insert body")
		}
		if input.URI == "" {
			return apperrors.NewInvalidParamError("playlist: uri is required")
		}
		newID, err := service.Insert(r.Context(), input.AfterID, input.URI, input.Metadata)
		if err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusCreated, map[string]any{"id": newID})
	}))

	router.Method(http.MethodDelete, "/v1/playlist/tracks/{id}", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		id, err := idParam(r)
		if err != nil {
			return err
		}
		if err := service.DeleteID(r.Context(), id); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodDelete, "/v1/playlist/tracks", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.DeleteAll(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	}))

	router.Method(http.MethodGet, "/v1/playlist/tracks-max", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"tracks_max": service.TracksMax()})
	}))

	router.Method(http.MethodGet, "/v1/playlist/id-array", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"id_array": service.IdArray()})
	}))

	router.Method(http.MethodGet, "/v1/playlist/id-array-changed", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		token, err := strconv.ParseUint(r.URL.Query().Get("token"), 10, 64)
		if err != nil {
			return apperrors.NewInvalidParamError("playlist: token must be an unsigned integer")
		}
		value := 0
		if service.IdArrayChanged(token) {
			value = 1
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"value": value})
	}))

	router.Method(http.MethodGet, "/v1/playlist/protocol-info", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"protocol_info": service.ProtocolInfo()})
	}))

	router.Method(http.MethodPost, "/v1/playlist/activate", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Activate(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"active": true})
	}))

	router.Method(http.MethodPost, "/v1/playlist/deactivate", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := service.Deactivate(r.Context()); err != nil {
			return err
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"active": false})
	}))
}

func formatTrack(track TrackInfo) map[string]any {
	return map[string]any{
		"id":       track.ID,
		"uri":      track.URI,
		"metadata": track.Metadata,
	}
}

func idParam(r *http.Request) (int32, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		return 0, apperrors.NewInvalidParamError("playlist: id must be a 32-bit integer")
	}
	return int32(id), nil
}

func idList(raw string) ([]int32, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int32, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, apperrors.NewInvalidParamError("playlist: ids must be comma-separated 32-bit integers")
		}
		ids = append(ids, int32(id))
	}
	return ids, nil
}

func intField(r *http.Request, name string) (int, error) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return 0, apperrors.NewInvalidParamError("playlist: malformed request body")
	}
	raw, ok := body[name]
	if !ok {
		return 0, apperrors.NewInvalidParamError("playlist: " + name + " is required")
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, apperrors.NewInvalidParamError("playlist: " + name + " must be an integer")
	}
	return int(f), nil
}
