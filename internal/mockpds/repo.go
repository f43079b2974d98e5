package mockpds

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/labstack/echo/v4"
	"github.com/multiformats/go-multihash"
)

func computeCID(data []byte) string {
	prefix := cid.NewPrefixV1(cid.Raw, multihash.SHA2_256)
	c, err := prefix.Sum(data)
	if err != nil {
		return ""
	}
	return c.String()
}

// authorizeWrite validates the access token and checks it matches the
// target repo.
func (s *Server) authorizeWrite(c echo.Context, repoDID string) error {
	did, ok := s.bearerDID(c, scopeAccess)
	if !ok {
		return xrpcError(c, http.StatusUnauthorized, "AuthRequired", "Access token required")
	}
	if did != repoDID {
		return xrpcError(c, http.StatusUnauthorized, "AuthenticationRequired", "Cannot write to repo "+repoDID)
	}
	return nil
}

func (s *Server) handleCreateRecord(c echo.Context) error {
	var req struct {
		Repo       string          `json:"repo"`
		Collection string          `json:"collection"`
		RKey       string          `json:"rkey"`
		Record     json.RawMessage `json:"record"`
	}
	if err := c.Bind(&req); err != nil {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "Invalid JSON body")
	}
	if req.Repo == "" || req.Collection == "" || len(req.Record) == 0 {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "repo, collection, and record are required")
	}
	if err := s.authorizeWrite(c, req.Repo); err != nil {
		return err
	}

	s.mu.Lock()
	if s.accounts[req.Repo] == nil {
		s.mu.Unlock()
		return xrpcError(c, http.StatusNotFound, "RepoNotFound", "Repository not found: "+req.Repo)
	}

	rkey := req.RKey
	if rkey == "" {
		rkey = fmt.Sprintf("%x", time.Now().UnixMicro())
	}

	byCollection := s.records[req.Repo]
	if byCollection == nil {
		byCollection = make(map[string]map[string]storedRecord)
		s.records[req.Repo] = byCollection
	}
	byKey := byCollection[req.Collection]
	if byKey == nil {
		byKey = make(map[string]storedRecord)
		byCollection[req.Collection] = byKey
	}

	recordCID := computeCID(req.Record)
	byKey[rkey] = storedRecord{CID: recordCID, Value: req.Record}

	uri := "at://" + req.Repo + "/" + req.Collection + "/" + rkey
	s.emitCommitLocked(req.Repo, req.Collection+"/"+rkey, "create", recordCID)
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{
		"uri": uri,
		"cid": recordCID,
	})
}

func (s *Server) handleGetRecord(c echo.Context) error {
	repoDID := c.QueryParam("repo")
	collection := c.QueryParam("collection")
	rkey := c.QueryParam("rkey")
	if repoDID == "" || collection == "" || rkey == "" {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "repo, collection, and rkey query parameters are required")
	}

	s.mu.Lock()
	rec, ok := s.records[repoDID][collection][rkey]
	s.mu.Unlock()
	if !ok {
		return xrpcError(c, http.StatusNotFound, "RecordNotFound", "Record not found")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"uri":   "at://" + repoDID + "/" + collection + "/" + rkey,
		"cid":   rec.CID,
		"value": rec.Value,
	})
}

func (s *Server) handleListRecords(c echo.Context) error {
	repoDID := c.QueryParam("repo")
	collection := c.QueryParam("collection")
	if repoDID == "" || collection == "" {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "repo and collection query parameters are required")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
		}
		limit = parsed
	}
	cursor := c.QueryParam("cursor")

	s.mu.Lock()
	byKey := s.records[repoDID][collection]
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		if cursor != "" && key <= cursor {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}

	records := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		rec := byKey[key]
		records = append(records, map[string]any{
			"uri":   "at://" + repoDID + "/" + collection + "/" + key,
			"cid":   rec.CID,
			"value": rec.Value,
		})
	}
	s.mu.Unlock()

	resp := map[string]any{"records": records}
	if len(keys) == limit && limit > 0 {
		resp["cursor"] = keys[len(keys)-1]
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteRecord(c echo.Context) error {
	var req struct {
		Repo       string `json:"repo"`
		Collection string `json:"collection"`
		RKey       string `json:"rkey"`
	}
	if err := c.Bind(&req); err != nil {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "Invalid JSON body")
	}
	if req.Repo == "" || req.Collection == "" || req.RKey == "" {
		return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "repo, collection, and rkey are required")
	}
	if err := s.authorizeWrite(c, req.Repo); err != nil {
		return err
	}

	s.mu.Lock()
	if byKey := s.records[req.Repo][req.Collection]; byKey != nil {
		delete(byKey, req.RKey)
	}
	s.emitCommitLocked(req.Repo, req.Collection+"/"+req.RKey, "delete", "")
	s.mu.Unlock()

	return c.JSON(http.StatusOK, map[string]string{})
}
