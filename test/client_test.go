//go:build integration_test || all_tests

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/2beens/repcount/internal/auth"
)

func (s *IntegrationTestSuite) do(ctx context.Context, method, path, token string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "test-agent")
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.httpClient.Do(req)
}

// doJSON sends payload (when not nil) as JSON, checks the status and decodes
// the response into out (when not nil).
func (s *IntegrationTestSuite) doJSON(
	ctx context.Context,
	method, path, token string,
	payload any,
	expectedStatus int,
	out any,
) []byte {
	var body io.Reader
	if payload != nil {
		payloadJson, err := json.Marshal(payload)
		s.Require().NoError(err)
		body = bytes.NewReader(payloadJson)
	}

	resp, err := s.do(ctx, method, path, token, body)
	s.Require().NoError(err)
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Require().Equal(expectedStatus, resp.StatusCode, string(respBytes))

	if out != nil {
		s.Require().NoError(json.Unmarshal(respBytes, out))
	}
	return respBytes
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *IntegrationTestSuite) doLogin(ctx context.Context) string {
	var loginResp struct {
		Token string `json:"token"`
	}
	s.doJSON(ctx, http.MethodPost, "/a/login", "", loginRequest{
		Username: testUsername,
		Password: testPassword,
	}, http.StatusOK, &loginResp)
	s.Require().NotEmpty(loginResp.Token)
	return loginResp.Token
}

func (s *IntegrationTestSuite) doLogout(ctx context.Context, token string) {
	s.doJSON(ctx, http.MethodPost, "/a/logout", token, nil, http.StatusOK, nil)
}
