package realtime

import (
	"regexp"
	"sync"

	"sketchd/core"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/engine.io/v2/utils"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// boardWatch is one live bridge from the store's change feed to a socket.io
// room. The subscription exists while at least one socket is in the room.
type boardWatch struct {
	unsubscribe func()
	sockets     int
}

var (
	watchesMu sync.Mutex
	watches   = make(map[string]*boardWatch)
)

// GetActiveBoards returns the number of connected sockets per board.
func GetActiveBoards() map[string]int {
	watchesMu.Lock()
	defer watchesMu.Unlock()

	boards := make(map[string]int, len(watches))
	for id, w := range watches {
		boards[id] = w.sockets
	}
	return boards
}

// SetupSocketIO wires board rooms over socket.io: sockets join a board room,
// receive every store change event for that board as "board-change", and get
// presence updates as peers come and go.
func SetupSocketIO(store core.ObjectStore) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin: []any{
			localhostOrigin,
		},
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	joinBoard := func(socket *socketio.Socket, boardID string) {
		room := socketio.Room(boardID)
		socket.Join(room)
		utils.Log().Printf("socket %v joined board %v\n", socket.Id(), boardID)

		watchesMu.Lock()
		w, ok := watches[boardID]
		if !ok {
			w = &boardWatch{}
			w.unsubscribe = store.Subscribe(boardID, func(ev core.ChangeEvent) {
				_ = srv.To(room).Emit("board-change", ev)
			})
			watches[boardID] = w
		}
		w.sockets++
		watchesMu.Unlock()

		srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, fetchErr error) {
			if fetchErr != nil {
				return
			}
			peers := make([]socketio.SocketId, 0, len(users))
			for _, user := range users {
				peers = append(peers, user.Id())
			}
			srv.In(room).Emit("board-user-change", peers)
		})
	}

	leaveBoard := func(socket *socketio.Socket, boardID string) {
		watchesMu.Lock()
		if w, ok := watches[boardID]; ok {
			w.sockets--
			if w.sockets <= 0 {
				w.unsubscribe()
				delete(watches, boardID)
			}
		}
		watchesMu.Unlock()
	}

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join-board", func(datas ...any) {
			if len(datas) == 0 {
				_ = socket.Emit("join-board-ack", map[string]any{
					"status": "error",
					"error":  "board id is required",
				})
				return
			}
			boardID, ok := datas[0].(string)
			if !ok || boardID == "" {
				_ = socket.Emit("join-board-ack", map[string]any{
					"status": "error",
					"error":  "invalid board id",
				})
				return
			}

			joinBoard(socket, boardID)
			_ = socket.Emit("join-board-ack", map[string]any{
				"status": "ok",
				"board":  boardID,
			})
		})

		socket.On("disconnecting", func(datas ...any) {
			for _, room := range socket.Rooms().Keys() {
				boardID := string(room)
				if boardID == string(socket.Id()) {
					continue
				}
				utils.Log().Printf("socket %v leaving board %v\n", socket.Id(), boardID)
				leaveBoard(socket, boardID)

				srv.In(room).FetchSockets()(func(users []*socketio.RemoteSocket, _ error) {
					peers := make([]socketio.SocketId, 0, len(users))
					for _, user := range users {
						if user.Id() != socket.Id() {
							peers = append(peers, user.Id())
						}
					}
					if len(peers) > 0 {
						srv.In(room).Emit("board-user-change", peers)
					}
				})
			}
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}
