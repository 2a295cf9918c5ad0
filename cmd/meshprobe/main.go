package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/meshroom/internal/adapters/rtc"
	"github.com/dkeye/meshroom/internal/config"
	"github.com/dkeye/meshroom/internal/domain"
	"github.com/dkeye/meshroom/internal/mesh"
)

var (
	serverURL string
	roomName  string
	peers     int
	timeout   time.Duration
	useWebRTC bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "meshprobe",
	Short: "Join N clients to a room and check that they form a full mesh",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return probe(ctx)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&serverURL, "url", "u", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	f.StringVarP(&roomName, "room", "r", "probe", "room to join")
	f.IntVarP(&peers, "peers", "n", 3, "number of clients")
	f.DurationVarP(&timeout, "timeout", "t", 30*time.Second, "overall deadline")
	f.BoolVar(&useWebRTC, "webrtc", false, "negotiate real data channels instead of placeholder descriptions")
	f.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// iceFromWelcome reads the servers a client was told to use.
func iceFromWelcome(raw json.RawMessage) []config.ICEServer {
	var servers []config.ICEServer
	var wire []rtc.ClientICEServer
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}
	for _, s := range wire {
		servers = append(servers, config.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return servers
}

type opened struct {
	mu    sync.Mutex
	peers map[domain.ConnectionID]struct{}
	ch    chan struct{}
}

func (o *opened) add(peer domain.ConnectionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peers[peer] = struct{}{}
	select {
	case o.ch <- struct{}{}:
	default:
	}
}

func (o *opened) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.peers)
}

func probe(ctx context.Context) error {
	if peers < 2 {
		return fmt.Errorf("need at least 2 peers, got %d", peers)
	}
	room, err := domain.ParseRoomID(roomName)
	if err != nil {
		return err
	}

	clients := make([]*mesh.Client, 0, peers)
	channels := make([]*opened, 0, peers)
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	start := time.Now()
	for i := 0; i < peers; i++ {
		var neg mesh.Negotiator
		var pn *mesh.PionNegotiator
		var dc *opened
		if useWebRTC {
			dc = &opened{peers: make(map[domain.ConnectionID]struct{}), ch: make(chan struct{}, 1)}
			pn = mesh.NewPionNegotiator(rtc.DefaultWebRTCConfig(), dc.add)
			defer pn.Close()
			neg = pn
		}
		c, err := mesh.Dial(ctx, serverURL, neg)
		if err != nil {
			return fmt.Errorf("client %d: %w", i, err)
		}
		if pn != nil {
			if servers := iceFromWelcome(c.ICEServers()); len(servers) > 0 {
				pn.SetConfiguration(rtc.WebRTCConfig(servers))
			}
		}
		clients = append(clients, c)
		channels = append(channels, dc)

		name := fmt.Sprintf("probe-%d", i+1)
		if err := c.Join(room, domain.Identity{ID: domain.UserID(name), Name: name}); err != nil {
			return fmt.Errorf("client %d join: %w", i, err)
		}
		// Joins are sequential so every newcomer sees the ones before it.
		if err := c.Tracker().WaitLinked(ctx, i); err != nil {
			return fmt.Errorf("client %d linked %d of %d peers: %w", i, len(c.Tracker().Linked()), i, err)
		}
		log.Info().Str("module", "meshprobe").Str("conn", string(c.ID())).Int("prior", i).Msg("joined")
	}

	for i, c := range clients {
		if err := c.Tracker().WaitLinked(ctx, peers-1); err != nil {
			return fmt.Errorf("client %d: mesh incomplete (%d/%d): %w", i, len(c.Tracker().Linked()), peers-1, err)
		}
	}
	if useWebRTC {
		for i, dc := range channels {
			for dc.count() < peers-1 {
				select {
				case <-dc.ch:
				case <-ctx.Done():
					return fmt.Errorf("client %d: %d/%d data channels open: %w", i, dc.count(), peers-1, ctx.Err())
				}
			}
		}
	}

	fmt.Printf("full mesh of %d peers in room %q after %s\n", peers, room, time.Since(start).Round(time.Millisecond))

	// The last client leaves; everyone else must tear its link down.
	last := clients[len(clients)-1]
	if err := last.Leave(room); err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	for i, c := range clients[:len(clients)-1] {
		if err := c.Tracker().WaitGone(ctx, last.ID()); err != nil {
			return fmt.Errorf("client %d still linked to %s after leave: %w", i, last.ID(), err)
		}
	}
	fmt.Printf("leave of %s seen by %d peers\n", last.ID(), len(clients)-1)
	return nil
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "meshprobe:", err)
		os.Exit(1)
	}
}
