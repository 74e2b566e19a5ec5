// Command mayako-node is the node process: it wires the transport
// manager, integrity middleware, relay, device manager and command
// dispatcher together and drives the single event-loop goroutine
// described in SPEC_FULL.md §5. Flag/logging/signal-handling style
// grounded on cmd/bluetooth-service/main.go.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/librescoot/mayako-node/pkg/actuator"
	"github.com/librescoot/mayako-node/pkg/board"
	"github.com/librescoot/mayako-node/pkg/command"
	"github.com/librescoot/mayako-node/pkg/device"
	"github.com/librescoot/mayako-node/pkg/integrity"
	"github.com/librescoot/mayako-node/pkg/kvstore"
	"github.com/librescoot/mayako-node/pkg/metrics"
	"github.com/librescoot/mayako-node/pkg/redis"
	"github.com/librescoot/mayako-node/pkg/relay"
	"github.com/librescoot/mayako-node/pkg/transport"
	"github.com/librescoot/mayako-node/pkg/transportmgr"
	"github.com/librescoot/mayako-node/pkg/wifiprofile"
)

// LoopWaitTime is the event loop's tick cadence, matching
// MC::LOOP_WAIT_TIME_DEFAULT.
const LoopWaitTime = 5 * time.Millisecond

var (
	nodeIdentity = flag.String("identity", "MYKO", "Node identity, stamped into every outbound packet header (max 4 bytes)")

	serialDevice = flag.String("serial", "/dev/ttyUSB0", "Point-to-point serial device path")
	baudRate     = flag.Int("baud", 115200, "Serial baud rate")

	wirelessEnabled = flag.Bool("wireless", true, "Bring up the optional wireless (UDP) transport")
	wirelessBind    = flag.String("wireless-bind", ":17320", "Local address the wireless transport binds to")

	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPass = flag.String("redis-pass", "", "Redis password")
	redisDB   = flag.Int("redis-db", 0, "Redis database number")

	wifiSSID       = flag.String("wifi-ssid", "", "Build-time primary WiFi profile SSID")
	wifiPassword   = flag.String("wifi-password", "", "Build-time primary WiFi profile password")
	wifiClientIP   = flag.String("wifi-client-ip", "", "Build-time primary WiFi profile peer IP")
	wifiClientPort = flag.Int("wifi-client-port", 0, "Build-time primary WiFi profile peer port")

	chargingPin = flag.String("charging-pin", "", "GPIO line reporting charging status (empty disables charging detection)")
	identifyPin = flag.String("identify-pin", "", "GPIO line blinked by IDENTIFY (empty uses the board default)")

	metricsAddr = flag.String("metrics-addr", "", "Address to serve /metrics on (empty disables the endpoint)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting mayako-node")
	log.Printf("Node identity: %s", *nodeIdentity)
	log.Printf("Serial device: %s (baud %d)", *serialDevice, *baudRate)
	log.Printf("Redis address: %s", *redisAddr)

	rel := relay.New()

	rc, err := redis.New(*redisAddr, *redisPass, *redisDB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rc.Close()
	log.Printf("Connected to Redis")

	store := kvstore.NewRedisStore(rc)
	profiles, err := wifiprofile.New(store, wifiprofile.BuildProfile{
		SSID:       *wifiSSID,
		Password:   *wifiPassword,
		ClientIP:   *wifiClientIP,
		ClientPort: uint16(*wifiClientPort),
	})
	if err != nil {
		log.Fatalf("Failed to initialize WiFi profile store: %v", err)
	}

	gpioBoard := board.NewGPIOBoard(*chargingPin, *identifyPin)
	if err := gpioBoard.Init(); err != nil {
		log.Fatalf("Failed to initialize board: %v", err)
	}

	deviceMgr := device.New(*nodeIdentity, gpioBoard, rel)

	mainSwitch := actuator.NewSwitch("MAIN", func(on bool) error {
		log.Printf("main switch set to %v", on)
		return nil
	})
	deviceMgr.AddActuator(mainSwitch)

	p2p := transport.NewPointToPoint(*serialDevice, *baudRate)

	var wireless transport.Transport
	var wirelessConcrete *transport.Wireless
	if *wirelessEnabled {
		wirelessConcrete = transport.NewWireless(*wirelessBind)
		wireless = wirelessConcrete
	}
	if profiles.LoadActiveProfile() {
		if creds, ok := profiles.ActiveCredentials(); ok && wirelessConcrete != nil {
			wirelessConcrete.SetCredentials(transport.Credentials{
				ClientIP:   creds.ClientIP,
				ClientPort: int(creds.ClientPort),
			})
			log.Printf("Restored active WiFi profile, peer %s:%d", creds.ClientIP, creds.ClientPort)
		}
	}

	mw := integrity.New(rel, nil)

	transportNames := []string{"serial"}
	if wireless != nil {
		transportNames = append(transportNames, "wireless")
	}

	mgr := transportmgr.New(p2p, wireless, mw, rel, *nodeIdentity)

	if *metricsAddr != "" {
		m := metrics.New(prometheus.DefaultRegisterer, transportNames)
		mw.SetMetrics(m)
		mgr.SetMetrics(m)
		go func() {
			log.Printf("Serving metrics on %s/metrics", *metricsAddr)
			if err := serveMetrics(*metricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	if err := mgr.Init(); err != nil {
		log.Fatalf("Failed to initialize transports: %v", err)
	}
	defer mgr.Destroy()
	log.Printf("Transports initialized")

	dispatcher := buildDispatcher(deviceMgr, mw, profiles, rel, mainSwitch)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(LoopWaitTime)
	defer ticker.Stop()

	log.Printf("Entering event loop")
	for {
		select {
		case <-sigCh:
			log.Printf("Shutting down...")
			return
		case now := <-ticker.C:
			runTick(now, mgr, dispatcher, deviceMgr)
		}
	}
}

// runTick executes the six-step event loop body described in
// SPEC_FULL.md §5, in order.
func runTick(now time.Time, mgr *transportmgr.Manager, dispatcher *command.Dispatcher, deviceMgr *device.Manager) {
	mgr.UpgradeProtocol(now)
	mgr.SendHeartbeat(now)

	commands, err := mgr.ReadIncoming(now)
	if err != nil {
		log.Printf("read incoming: %v", err)
	}
	for _, payload := range commands {
		if err := dispatcher.Execute(payload); err != nil {
			log.Printf("dispatch: %v", err)
		}
	}

	deviceMgr.CheckRecordComplete(now)
	if deviceMgr.IsRecordInProgress(now) {
		for _, p := range deviceMgr.ReadSensors(now) {
			mgr.Enqueue(p)
		}
	}

	if err := mgr.WriteOutgoing(); err != nil {
		log.Printf("write outgoing: %v", err)
	}
}

func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return http.ListenAndServe(addr, mux)
}

// buildDispatcher registers every built-in command spec.md §4.6 names,
// plus the reference actuators the device manager owns.
func buildDispatcher(deviceMgr *device.Manager, mw *integrity.Middleware, profiles *wifiprofile.Manager, rel *relay.Relay, sw *actuator.Switch) *command.Dispatcher {
	d := command.NewDispatcher(rel)

	d.AddCommand("RECORD_CREATE", deviceMgr.CreateCapabilities)
	d.AddCommand("RECORD_START", func(json.RawMessage) error { return deviceMgr.StartRecord(time.Now()) })
	d.AddCommand("RECORD_STOP", func(json.RawMessage) error { return deviceMgr.StopRecord() })
	d.AddCommand("RECORD_READ", deviceMgr.ReadCapabilities)
	d.AddCommand("BATTERY_READ", deviceMgr.GetBattery)
	d.AddCommand("IDENTIFY", deviceMgr.Identify)
	d.AddCommand("RESTART", deviceMgr.Restart)

	d.AddCommand("CONNECTION_READ", connectionReadHandler(rel))
	d.AddCommand("ACKNOWLEDGEMENT_ENABLE", func(json.RawMessage) error {
		mw.EnableAckPackets()
		return nil
	})
	d.AddCommand("ACKNOWLEDGEMENT_DISABLE", func(json.RawMessage) error {
		mw.DisableAckPackets()
		return nil
	})

	d.AddCommand("WIFI_PROFILE_CREATE", wifiProfileCreateHandler(profiles, rel))
	d.AddCommand("WIFI_PROFILE_READ", wifiProfileReadHandler(profiles, rel))
	d.AddCommand("WIFI_PROFILE_ACTIVE_READ", wifiProfileActiveReadHandler(profiles, rel))
	d.AddCommand("WIFI_PROFILE_ALL_READ", wifiProfileAllReadHandler(profiles, rel))
	d.AddCommand("WIFI_PROFILE_ACTIVE_SELECT", wifiProfileActiveSelectHandler(profiles, rel))
	d.AddCommand("WIFI_PROFILE_DELETE", wifiProfileDeleteHandler(profiles, rel))

	d.AddActuator(sw.OnCommandName(), sw)
	d.AddActuator(sw.OffCommandName(), sw)

	return d
}

// connectionReadHandler answers CONNECTION_READ. NetworkManager::
// readConnection also reports the active protocol's name and a raw
// connection-check boolean; both are already exported continuously via
// the active-transport metrics gauge (see DESIGN.md), so this reply
// carries only success.
func connectionReadHandler(rel *relay.Relay) command.Handler {
	return func(json.RawMessage) error {
		rel.Info(mustMarshal(map[string]any{
			"cmd_name": "CONNECTION_READ",
			"success":  true,
		}))
		return nil
	}
}

type wifiKeyRequest struct {
	WifiKey string `json:"wifi_key"`
}

func wifiProfileCreateHandler(profiles *wifiprofile.Manager, rel *relay.Relay) command.Handler {
	return func(payload json.RawMessage) error {
		var req struct {
			WifiKey string `json:"wifi_key"`
			wifiprofile.Credentials
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("wifi_profile_create: decode payload: %w", err)
		}
		if req.WifiKey == "" {
			rel.Info(mustMarshal(map[string]any{
				"cmd_name": "WIFI_PROFILE_CREATE",
				"wifi_key": req.WifiKey,
				"success":  false,
				"error":    "could not read wifi_key from request body",
			}))
			return nil
		}

		ok, err := profiles.CreateProfile(req.WifiKey, req.Credentials)
		if err != nil {
			return err
		}
		reply := map[string]any{
			"cmd_name": "WIFI_PROFILE_CREATE",
			"wifi_key": req.WifiKey,
			"success":  ok,
		}
		if !ok {
			reply["error"] = "wifi_key is empty or already registered"
		}
		rel.Info(mustMarshal(reply))
		return nil
	}
}

func wifiProfileReadHandler(profiles *wifiprofile.Manager, rel *relay.Relay) command.Handler {
	return func(payload json.RawMessage) error {
		var req wifiKeyRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("wifi_profile_read: decode payload: %w", err)
		}
		if req.WifiKey == "" {
			rel.Info(mustMarshal(map[string]any{
				"cmd_name": "WIFI_PROFILE_READ",
				"success":  false,
				"error":    "could not read wifi_key from request body",
			}))
			return nil
		}

		creds, ok := profiles.ReadProfile(req.WifiKey)
		reply := map[string]any{
			"cmd_name": "WIFI_PROFILE_READ",
			"wifi_key": req.WifiKey,
			"success":  ok,
		}
		if ok {
			reply["ssid"] = creds.SSID
			reply["password"] = creds.Password
			reply["client_ip"] = creds.ClientIP
			reply["client_port"] = creds.ClientPort
		} else {
			reply["error"] = "could not read a profile with wifi_key"
		}
		rel.Info(mustMarshal(reply))
		return nil
	}
}

func wifiProfileActiveReadHandler(profiles *wifiprofile.Manager, rel *relay.Relay) command.Handler {
	return func(json.RawMessage) error {
		key, creds, ok := profiles.ReadActiveProfile()
		reply := map[string]any{
			"cmd_name": "WIFI_PROFILE_ACTIVE_READ",
			"success":  ok,
		}
		if ok {
			reply["wifi_key"] = key
			reply["ssid"] = creds.SSID
			reply["password"] = creds.Password
			reply["client_ip"] = creds.ClientIP
			reply["client_port"] = creds.ClientPort
		} else {
			reply["error"] = "could not read the active WiFi profile"
		}
		rel.Info(mustMarshal(reply))
		return nil
	}
}

func wifiProfileAllReadHandler(profiles *wifiprofile.Manager, rel *relay.Relay) command.Handler {
	return func(json.RawMessage) error {
		views, err := profiles.ReadAllProfiles()
		if err != nil {
			return err
		}
		rel.Info(mustMarshal(map[string]any{
			"cmd_name": "WIFI_PROFILE_ALL_READ",
			"success":  true,
			"profiles": views,
		}))
		return nil
	}
}

func wifiProfileActiveSelectHandler(profiles *wifiprofile.Manager, rel *relay.Relay) command.Handler {
	return func(payload json.RawMessage) error {
		var req wifiKeyRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("wifi_profile_active_select: decode payload: %w", err)
		}
		if req.WifiKey == "" {
			rel.Info(mustMarshal(map[string]any{
				"cmd_name": "WIFI_PROFILE_ACTIVE_SELECT",
				"success":  false,
				"error":    "could not read wifi_key from request body",
			}))
			return nil
		}

		ok, err := profiles.SelectActiveProfile(req.WifiKey)
		if err != nil {
			return err
		}
		reply := map[string]any{
			"cmd_name": "WIFI_PROFILE_ACTIVE_SELECT",
			"wifi_key": req.WifiKey,
			"success":  ok,
		}
		if !ok {
			reply["error"] = "wifi key does not exist or wifi profile could not be selected"
		}
		rel.Info(mustMarshal(reply))
		return nil
	}
}

func wifiProfileDeleteHandler(profiles *wifiprofile.Manager, rel *relay.Relay) command.Handler {
	return func(payload json.RawMessage) error {
		var req wifiKeyRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("wifi_profile_delete: decode payload: %w", err)
		}
		if req.WifiKey == "" {
			rel.Info(mustMarshal(map[string]any{
				"cmd_name": "WIFI_PROFILE_DELETE",
				"success":  false,
				"error":    "could not read wifi_key from request body",
			}))
			return nil
		}

		ok, err := profiles.DestroyProfile(req.WifiKey)
		if err != nil {
			return err
		}
		reply := map[string]any{
			"cmd_name": "WIFI_PROFILE_DELETE",
			"wifi_key": req.WifiKey,
			"success":  ok,
		}
		if !ok {
			reply["error"] = "wifi key does not exist or wifi profile could not be destroyed"
		}
		rel.Info(mustMarshal(reply))
		return nil
	}
}

func mustMarshal(v any) []byte {
	out, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("mayako-node: marshal reply: %v", err))
	}
	return out
}
