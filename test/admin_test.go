//go:build integration_test || all_tests

package test

import (
	"net/http"
	"net/url"
	"strconv"
	"time"
)

func (s *IntegrationTestSuite) TestLoginLogout() {
	browser := s.newBrowser()

	status, _ := s.login(browser, "bad-password")
	s.Equal(http.StatusUnauthorized, status)

	status, csrfToken := s.login(browser, testPassword)
	s.Require().Equal(http.StatusOK, status)

	// token from one browser is no good for another session
	other := s.newBrowser()
	_, otherToken := s.login(other, testPassword)
	resp := s.postForm(browser, "/admin/logout", otherToken, url.Values{}, nil)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	resp = s.postForm(browser, "/admin/logout", csrfToken, url.Values{}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	resp = s.getJSON(browser, "/admin", nil)
	s.Equal(http.StatusSeeOther, resp.StatusCode)
	s.Equal("/admin/login?next=%2Fadmin", resp.Header.Get("Location"))

	// the other session is untouched
	resp = s.getJSON(other, "/admin", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestContactAndReply() {
	visitor := s.newBrowser()

	var formToken tokenResponse
	s.getJSON(visitor, "/csrf", &formToken)

	var created struct {
		Status string `json:"status"`
		ID     int    `json:"id"`
	}
	resp := s.postForm(visitor, "/contact", formToken.CsrfToken, url.Values{
		"name":    {"Vera"},
		"email":   {"vera@example.org"},
		"subject": {"Hello"},
		"message": {"Nice site!"},
	}, &created)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	s.Equal("received", created.Status)

	admin := s.newBrowser()
	_, csrfToken := s.login(admin, testPassword)

	var reply struct {
		Warning string `json:"warning"`
		Job     struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"job"`
	}
	resp = s.postForm(admin, "/admin/contact/"+strconv.Itoa(created.ID)+"/reply", csrfToken, url.Values{
		"body": {"Thanks Vera!"},
	}, &reply)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.NotEmpty(reply.Warning)
	s.Equal("failed", reply.Job.Status)

	var isRead bool
	var repliedAt *time.Time
	s.Require().NoError(s.DB.QueryRow(
		`SELECT is_read, replied_at FROM contact_message WHERE id = $1`, created.ID,
	).Scan(&isRead, &repliedAt))
	s.True(isRead)
	s.Nil(repliedAt)

	resp = s.getJSON(admin, "/admin/email/jobs/"+reply.Job.ID, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestNewsletterSubscription() {
	visitor := s.newBrowser()

	var formToken tokenResponse
	s.getJSON(visitor, "/csrf", &formToken)

	resp := s.postForm(visitor, "/newsletter/subscribe", formToken.CsrfToken, url.Values{"email": {"Reader@Example.org"}}, nil)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	resp = s.postForm(visitor, "/newsletter/subscribe", formToken.CsrfToken, url.Values{"email": {"reader@example.org"}}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	var active int
	s.Require().NoError(s.DB.QueryRow(
		`SELECT COUNT(*) FROM newsletter_subscriber WHERE email = 'reader@example.org' AND is_active`,
	).Scan(&active))
	s.Equal(1, active)

	admin := s.newBrowser()
	_, csrfToken := s.login(admin, testPassword)

	var broadcast struct {
		Warning string `json:"warning"`
		Batch   struct {
			Total   int  `json:"total"`
			Aborted bool `json:"aborted"`
		} `json:"batch"`
	}
	resp = s.postForm(admin, "/admin/newsletter/broadcast", csrfToken, url.Values{
		"title": {"Hello world"},
		"slug":  {"hello-world"},
	}, &broadcast)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.NotEmpty(broadcast.Warning)
	s.True(broadcast.Batch.Aborted)

	resp = s.postForm(visitor, "/newsletter/unsubscribe", formToken.CsrfToken, url.Values{"email": {"reader@example.org"}}, nil)
	s.Equal(http.StatusOK, resp.StatusCode)
}
