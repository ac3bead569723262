package provider

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/spooky-finn/go-okx-bridge/provider/okx"
)

var logger = log.New(os.Stdout, "[conn-manager] ", log.LstdFlags)

const (
	defaultPublicWsURL  = "wss://ws.okx.com:8443/ws/v5/public"
	defaultPrivateWsURL = "wss://ws.okx.com:8443/ws/v5/private"

	// All sockets belong to one client identity, so dial attempts share one
	// token bucket.
	connAttemptsPerSecond = 1
	connBurst             = 3
)

type ConnectionManager struct {
	SyncAPI   *okx.OKXSyncAPI
	PublicWS  *okx.OKXStreamClient
	PrivateWS *okx.OKXStreamClient
	StreamAPI *okx.OKXStreamAPI
}

func NewConnectionManager() *ConnectionManager {
	limiter := okx.NewConnLimiter(connAttemptsPerSecond, connBurst)
	syncAPI := okx.NewOKXSyncAPI()

	publicWS := okx.NewOKXStreamClient(okx.StreamClientConfig{
		URL:         envOr("OKX_WS_PUBLIC_URL", defaultPublicWsURL),
		ConnLimiter: limiter,
	})

	var privateWS *okx.OKXStreamClient
	creds := okx.CredentialsFromEnv()
	if creds.APIKey != "" {
		privateWS = okx.NewOKXStreamClient(okx.StreamClientConfig{
			URL:         envOr("OKX_WS_PRIVATE_URL", defaultPrivateWsURL),
			Credentials: creds,
			ConnLimiter: limiter,
		})
	}

	return &ConnectionManager{
		SyncAPI:   syncAPI,
		PublicWS:  publicWS,
		PrivateWS: privateWS,
		StreamAPI: okx.NewOKXStreamAPI(publicWS, privateWS, syncAPI),
	}
}

// Init dials every configured socket concurrently and waits for all of them.
// A failed public dial is fatal; private stream problems are logged and the
// market-data side keeps working.
func (cm *ConnectionManager) Init(ctx context.Context) error {
	wg := &sync.WaitGroup{}

	var publicErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		publicErr = cm.PublicWS.Connect(ctx)
	}()

	if cm.PrivateWS != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cm.PrivateWS.Connect(ctx); err != nil {
				logger.Printf("failed to connect to private ws: %s", err)
			}
		}()
	}

	wg.Wait()
	if publicErr != nil {
		return publicErr
	}

	if cm.PrivateWS != nil && cm.PrivateWS.State() == okx.StateAuthenticated {
		if err := cm.StreamAPI.SubscribeOrders(); err != nil {
			logger.Printf("failed to subscribe to order updates: %s", err)
		}
	}
	return nil
}

func (cm *ConnectionManager) Close() {
	cm.StreamAPI.Close()
	cm.PublicWS.Close()
	if cm.PrivateWS != nil {
		cm.PrivateWS.Close()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
