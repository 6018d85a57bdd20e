package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/flowbike/ebike-monitor/internal/flowapi"
	"github.com/flowbike/ebike-monitor/internal/oauth"
	"github.com/flowbike/ebike-monitor/internal/reading"
	"github.com/flowbike/ebike-monitor/tui"
)

// runLogin performs the browser-based authorization code flow: it prints the
// authorization URL, reads back the code, exchanges it, picks the bike and
// stores the credentials under that bike's id.
func runLogin(ctx context.Context, d tui.Displayer, in io.Reader) error {
	store := oauth.NewStore(nil)
	flow, client := newClient(store)

	verifier, challenge := oauth.GeneratePKCEPair()
	d.LoginURL(flow.AuthorizationURL(challenge))

	input := loginCode
	if input == "" {
		line, err := readLine(ctx, in)
		if err != nil {
			return fmt.Errorf("failed to read authorization code: %w", err)
		}
		input = line
	}

	code, err := extractCode(input)
	if err != nil {
		return err
	}

	if _, err := flow.ExchangeCode(ctx, code, verifier); err != nil {
		return err
	}
	d.LoginSuccess()

	bikes, err := listBikes(ctx, client)
	if err != nil {
		return err
	}
	d.Bikes(bikes)

	bike, err := selectBike(bikes, bikeID)
	if err != nil {
		return err
	}
	if bikeName != "" {
		bike.Name = bikeName
	}
	d.BikeSelected(bike)

	if err := saveTokens(ctx, tokenFile, newTokenStorage(store.Token(), bike.ID, bike.Name)); err != nil {
		d.TokenSaveFailed(err)
		return err
	}
	d.TokenSaved(tokenFile)
	return nil
}

// runBikes lists the bikes of the stored account.
func runBikes(ctx context.Context, d tui.Displayer) error {
	s, err := openSession(d)
	if err != nil {
		return err
	}

	bikes, err := listBikes(ctx, s.client)
	if err != nil {
		return err
	}
	d.Bikes(bikes)
	return nil
}

func listBikes(ctx context.Context, client *flowapi.Client) ([]tui.Bike, error) {
	bikes, err := client.ListBikes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bikes: %w", err)
	}

	out := make([]tui.Bike, 0, len(bikes))
	for _, b := range bikes {
		out = append(out, tui.Bike{ID: b.ID, Name: reading.BikeName(b.Attributes)})
	}
	return out, nil
}

// selectBike picks want from bikes, or the only bike when want is empty.
func selectBike(bikes []tui.Bike, want string) (tui.Bike, error) {
	if len(bikes) == 0 {
		return tui.Bike{}, errors.New("no bikes found for this account")
	}

	if want != "" {
		for _, b := range bikes {
			if b.ID == want {
				return b, nil
			}
		}
		return tui.Bike{}, fmt.Errorf("bike %s not found on this account", want)
	}

	if len(bikes) > 1 {
		return tui.Bike{}, fmt.Errorf("%d bikes found, rerun login with -bike-id", len(bikes))
	}
	return bikes[0], nil
}

// extractCode accepts a bare code, a "code=...&state=..." query or a full
// redirect URL and returns the authorization code.
func extractCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("authorization code is empty")
	}

	if !strings.Contains(input, "code=") {
		return input, nil
	}

	query := input
	if i := strings.Index(input, "?"); i >= 0 {
		query = input[i+1:]
	}
	// Some providers put the response in the fragment.
	query = strings.Replace(query, "#", "&", 1)

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect URL: %w", err)
	}
	if errCode := values.Get("error"); errCode != "" {
		return "", fmt.Errorf("authorization failed: %s %s", errCode, values.Get("error_description"))
	}
	code := values.Get("code")
	if code == "" {
		return "", errors.New("redirect URL carries no code")
	}
	return code, nil
}

// readLine reads one line from in, giving up when ctx is done.
func readLine(ctx context.Context, in io.Reader) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{strings.TrimSpace(line), err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}
