package mockpds

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	atproto "github.com/bluesky-social/indigo/api/atproto"
	indigoevents "github.com/bluesky-social/indigo/events"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/gorilla/websocket"
	"github.com/ipfs/go-cid"
	"github.com/labstack/echo/v4"
	"github.com/multiformats/go-multihash"
	cbg "github.com/whyrusleeping/cbor-gen"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// emitCommitLocked sequences a single-op commit, stores its wire frame
// for cursor replay, and fans it out to connected subscribers. Caller
// holds s.mu.
func (s *Server) emitCommitLocked(did, path, action, recordCID string) {
	s.seq++
	frame, err := encodeCommitFrame(s.seq, did, path, action, recordCID)
	if err != nil {
		return
	}
	s.frames = append(s.frames, frame)
	for ch := range s.subs {
		select {
		case ch <- frame:
		default:
			// Slow consumer; drop them, they should reconnect.
			close(ch)
			delete(s.subs, ch)
		}
	}
}

// encodeCommitFrame serializes a commit as the firehose wire format:
// CBOR(EventHeader) + CBOR(SyncSubscribeRepos_Commit).
func encodeCommitFrame(seq int64, did, path, action, recordCID string) ([]byte, error) {
	rev := fmt.Sprintf("rev-%d", seq)
	commitCID, err := syntheticCID(did + "/" + rev)
	if err != nil {
		return nil, err
	}

	op := &atproto.SyncSubscribeRepos_RepoOp{
		Action: action,
		Path:   path,
	}
	if recordCID != "" {
		decoded, err := cid.Decode(recordCID)
		if err != nil {
			return nil, fmt.Errorf("mockpds: decode record cid: %w", err)
		}
		ll := lexutil.LexLink(decoded)
		op.Cid = &ll
	}

	commit := &atproto.SyncSubscribeRepos_Commit{
		Seq:    seq,
		Repo:   did,
		Rev:    rev,
		Commit: lexutil.LexLink(commitCID),
		Blocks: lexutil.LexBytes([]byte{}),
		Ops:    []*atproto.SyncSubscribeRepos_RepoOp{op},
		Blobs:  []lexutil.LexLink{},
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	var buf bytes.Buffer
	w := cbg.NewCborWriter(&buf)
	header := indigoevents.EventHeader{
		Op:      indigoevents.EvtKindMessage,
		MsgType: "#commit",
	}
	if err := header.MarshalCBOR(w); err != nil {
		return nil, fmt.Errorf("mockpds: marshal frame header: %w", err)
	}
	if err := commit.MarshalCBOR(w); err != nil {
		return nil, fmt.Errorf("mockpds: marshal commit: %w", err)
	}
	return buf.Bytes(), nil
}

func syntheticCID(seed string) (cid.Cid, error) {
	prefix := cid.NewPrefixV1(cid.Raw, multihash.SHA2_256)
	return prefix.Sum([]byte(seed))
}

// handleSubscribeRepos upgrades to a WebSocket, replays frames past the
// optional cursor, then streams live frames until the client goes away.
func (s *Server) handleSubscribeRepos(c echo.Context) error {
	var cursor int64 = -1
	if raw := c.QueryParam("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return xrpcError(c, http.StatusBadRequest, "InvalidRequest", "cursor must be a non-negative integer")
		}
		cursor = parsed
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := make(chan []byte, 256)

	s.mu.Lock()
	var backlog [][]byte
	if cursor >= 0 {
		// Frame i carries seq i+1; replay everything with seq > cursor.
		if cursor < int64(len(s.frames)) {
			backlog = append(backlog, s.frames[cursor:]...)
		}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, live := s.subs[ch]; live {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}()

	for _, frame := range backlog {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return nil
		}
	}

	// Detect client disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return nil
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return nil
			}
		case <-done:
			return nil
		}
	}
}
