package xrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	atproto "github.com/bluesky-social/indigo/api/atproto"
	indigoevents "github.com/bluesky-social/indigo/events"
	"github.com/gorilla/websocket"
	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// Firehose is a live com.atproto.sync.subscribeRepos stream. It owns
// its WebSocket connection and the background read loop; Close tears
// both down.
type Firehose struct {
	conn   *websocket.Conn
	log    *zap.Logger
	events chan firehoseItem
	done   chan struct{}

	closeOnce sync.Once
}

type firehoseItem struct {
	event *repo.Event
	err   error
}

func dialFirehose(ctx context.Context, base syntax.PDSURL, cursor *int64, logger *zap.Logger) (*Firehose, error) {
	wsBase, err := base.WebsocketBase()
	if err != nil {
		return nil, err
	}
	target := wsBase + "/xrpc/" + methodSubscribeRepos
	if cursor != nil {
		target += "?cursor=" + strconv.FormatInt(*cursor, 10)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, aterr.NewTransport(target, err)
	}

	f := &Firehose{
		conn:   conn,
		log:    logger,
		events: make(chan firehoseItem, 64),
		done:   make(chan struct{}),
	}
	go f.readLoop()
	return f, nil
}

// Next blocks until the next event, ctx cancellation, or stream end.
// Returns io.EOF after the server closes the stream.
func (f *Firehose) Next(ctx context.Context) (*repo.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item, ok := <-f.events:
		if !ok {
			return nil, io.EOF
		}
		return item.event, item.err
	}
}

// Close terminates the stream and releases the connection.
func (f *Firehose) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.conn.Close()
	})
	return nil
}

func (f *Firehose) readLoop() {
	defer close(f.events)
	for {
		_, data, err := f.conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				// Closed locally; end the sequence quietly.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					f.log.Debug("firehose closed by server")
				} else {
					f.send(firehoseItem{err: aterr.NewTransport("subscribeRepos", err)})
				}
			}
			return
		}

		event, err := decodeFrame(data)
		if err != nil {
			if !f.send(firehoseItem{err: err}) {
				return
			}
			continue
		}
		if event == nil {
			// Unknown message kind; skip rather than fail the stream.
			continue
		}
		if !f.send(firehoseItem{event: event}) {
			return
		}
	}
}

func (f *Firehose) send(item firehoseItem) bool {
	select {
	case f.events <- item:
		return true
	case <-f.done:
		return false
	}
}

// decodeFrame parses one wire frame: CBOR(EventHeader) followed by the
// CBOR message body named by the header.
func decodeFrame(data []byte) (*repo.Event, error) {
	r := bytes.NewReader(data)

	var header indigoevents.EventHeader
	if err := header.UnmarshalCBOR(r); err != nil {
		return nil, aterr.NewProtocol(0, "InvalidFrame", fmt.Sprintf("decode frame header: %v", err), "", "")
	}

	switch header.Op {
	case indigoevents.EvtKindErrorFrame:
		var body indigoevents.ErrorFrame
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, aterr.NewProtocol(0, "InvalidFrame", fmt.Sprintf("decode error frame: %v", err), "", "")
		}
		return nil, aterr.NewProtocol(0, body.Error, body.Message, "", "")

	case indigoevents.EvtKindMessage:
		return decodeMessage(header.MsgType, r)

	default:
		return nil, aterr.NewProtocol(0, "InvalidFrame", fmt.Sprintf("unknown frame op %d", header.Op), "", "")
	}
}

func decodeMessage(msgType string, r io.Reader) (*repo.Event, error) {
	switch msgType {
	case "#commit":
		var body atproto.SyncSubscribeRepos_Commit
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, frameErr(msgType, err)
		}
		repoDID, err := syntax.ParseDID(body.Repo)
		if err != nil {
			return nil, aterr.NewProtocol(0, "InvalidFrame", fmt.Sprintf("commit repo %q is not a DID", body.Repo), "", "")
		}
		commit := &repo.Commit{
			Seq:  body.Seq,
			Repo: repoDID,
			Rev:  body.Rev,
			Time: body.Time,
			Ops:  make([]repo.CommitOp, len(body.Ops)),
		}
		for i, op := range body.Ops {
			converted := repo.CommitOp{Path: op.Path, Action: op.Action}
			if op.Cid != nil {
				converted.CID = cid.Cid(*op.Cid).String()
			}
			commit.Ops[i] = converted
		}
		return &repo.Event{Commit: commit}, nil

	case "#identity":
		var body atproto.SyncSubscribeRepos_Identity
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, frameErr(msgType, err)
		}
		identity := &repo.Identity{Seq: body.Seq, DID: syntax.DID(body.Did), Time: body.Time}
		if body.Handle != nil {
			identity.Handle = *body.Handle
		}
		return &repo.Event{Identity: identity}, nil

	case "#handle":
		var body atproto.SyncSubscribeRepos_Handle
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, frameErr(msgType, err)
		}
		return &repo.Event{HandleChange: &repo.HandleChange{
			Seq:    body.Seq,
			DID:    syntax.DID(body.Did),
			Handle: body.Handle,
			Time:   body.Time,
		}}, nil

	case "#account":
		var body atproto.SyncSubscribeRepos_Account
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, frameErr(msgType, err)
		}
		status := &repo.AccountStatus{
			Seq:    body.Seq,
			DID:    syntax.DID(body.Did),
			Active: body.Active,
			Time:   body.Time,
		}
		if body.Status != nil {
			status.Status = *body.Status
		}
		return &repo.Event{AccountStatus: status}, nil

	case "#tombstone":
		var body atproto.SyncSubscribeRepos_Tombstone
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, frameErr(msgType, err)
		}
		return &repo.Event{Tombstone: &repo.Tombstone{
			Seq:  body.Seq,
			DID:  syntax.DID(body.Did),
			Time: body.Time,
		}}, nil

	case "#info":
		var body atproto.SyncSubscribeRepos_Info
		if err := body.UnmarshalCBOR(r); err != nil {
			return nil, frameErr(msgType, err)
		}
		info := &repo.Info{Name: body.Name}
		if body.Message != nil {
			info.Message = *body.Message
		}
		return &repo.Event{Info: info}, nil
	}

	// Forward-compatible: servers may add message kinds.
	return nil, nil
}

func frameErr(msgType string, err error) error {
	return aterr.NewProtocol(0, "InvalidFrame", fmt.Sprintf("decode %s frame: %v", msgType, err), "", "")
}
