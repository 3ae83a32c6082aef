//go:build integration_test || all_tests

package test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type tokenResponse struct {
	CsrfToken string `json:"csrf_token"`
}

func (s *IntegrationTestSuite) getJSON(client *http.Client, path string, dst any) *http.Response {
	resp, err := client.Get(serverEndpoint + path)
	s.Require().NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	if dst != nil && resp.StatusCode == http.StatusOK {
		s.Require().NoError(json.Unmarshal(body, dst), string(body))
	}
	return resp
}

// postForm posts form with the csrf token in the header, the way the admin frontend does.
func (s *IntegrationTestSuite) postForm(client *http.Client, path, csrfToken string, form url.Values, dst any) *http.Response {
	req, err := http.NewRequest(http.MethodPost, serverEndpoint+path, strings.NewReader(form.Encode()))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRF-Token", csrfToken)

	resp, err := client.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	if dst != nil && resp.StatusCode < 300 {
		s.Require().NoError(json.Unmarshal(body, dst), string(body))
	}
	return resp
}

// login runs the admin login flow and returns a csrf token bound to the new session.
func (s *IntegrationTestSuite) login(client *http.Client, password string) (int, string) {
	var formToken tokenResponse
	resp := s.getJSON(client, "/admin/login", &formToken)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp = s.postForm(client, "/admin/login", formToken.CsrfToken, url.Values{
		"username": {testUsername},
		"password": {password},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, ""
	}

	var dashboard struct {
		Admin     string `json:"admin"`
		CsrfToken string `json:"csrf_token"`
	}
	resp = s.getJSON(client, "/admin", &dashboard)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal(testUsername, dashboard.Admin)
	return http.StatusOK, dashboard.CsrfToken
}
