package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/sfu/internal/adapters/rtc"
	"github.com/dkeye/sfu/internal/domain"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	server := pflag.String("server", "http://127.0.0.1:8080", "signaling server base URL")
	session := pflag.String("session", "1", "session id")
	endpoint := pflag.String("endpoint", "1", "endpoint id")
	wait := pflag.Duration("wait", 10*time.Second, "how long to wait for ICE")
	verbose := pflag.BoolP("verbose", "v", false, "log pion internals")
	pflag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	sid, err := domain.ParseSessionID(*session)
	if err != nil {
		log.Fatal().Err(err).Msg("session")
	}
	eid, err := domain.ParseEndpointID(*endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	defer cancel()

	if err := run(ctx, *server, sid, eid); err != nil {
		log.Fatal().Err(err).Msg("probe failed")
	}
	log.Info().Msg("probe connected")
}

func run(ctx context.Context, server string, sid domain.SessionID, eid domain.EndpointID) error {
	p, err := rtc.NewProbe(sid, eid)
	if err != nil {
		return err
	}
	defer p.Close()

	offer, err := p.CreateOffer(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(offer)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/offer/%s/%s", server, sid, eid)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("offer rejected: %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return err
	}
	log.Debug().Str("sdp", answer.SDP).Msg("answer")
	if err := p.ApplyAnswer(answer); err != nil {
		return err
	}
	return p.WaitICEConnected(ctx)
}
