//go:build integration_test || all_tests

package test

import (
	"context"
	"net/http"
)

func (s *IntegrationTestSuite) TestLoginLogout() {
	ctx := context.Background()

	s.doJSON(ctx, http.MethodPost, "/a/login", "", loginRequest{
		Username: testUsername,
		Password: "wrong",
	}, http.StatusUnauthorized, nil)

	token := s.doLogin(ctx)

	// session works
	s.doJSON(ctx, http.MethodGet, "/workouts/stats/streak", token, nil, http.StatusOK, nil)

	s.doLogout(ctx, token)

	s.doJSON(ctx, http.MethodGet, "/workouts/stats/streak", token, nil, http.StatusUnauthorized, nil)
	s.doJSON(ctx, http.MethodPost, "/a/logout", token, nil, http.StatusUnauthorized, nil)
}
