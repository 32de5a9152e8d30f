package e2e

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background steps
	ctx.Step(`^the gateway is running against a mock backend$`, tc.gatewayIsRunning)

	// Session steps
	ctx.Step(`^I sign in as "([^"]*)" with password "([^"]*)"$`, tc.signIn)
	ctx.Step(`^I am signed in as "([^"]*)" with password "([^"]*)"$`, tc.signedIn)
	ctx.Step(`^I start simplified access with invite "([^"]*)"$`, tc.startSimplifiedAccess)

	// Request steps
	ctx.Step(`^I open "([^"]*)"$`, tc.open)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^I am redirected to "([^"]*)"$`, tc.redirectedTo)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
}

func (tc *TestContext) gatewayIsRunning(ctx context.Context) error {
	return tc.Start()
}

func (tc *TestContext) signIn(ctx context.Context, email, password string) error {
	return tc.POST("/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

func (tc *TestContext) signedIn(ctx context.Context, email, password string) error {
	if err := tc.signIn(ctx, email, password); err != nil {
		return err
	}
	return tc.responseStatusShouldBe(ctx, 200)
}

func (tc *TestContext) startSimplifiedAccess(ctx context.Context, invite string) error {
	return tc.POST("/api/auth/simplified-access", map[string]any{
		"invite_token":     invite,
		"first_name":       "Pat",
		"last_name":        "Doe",
		"date_of_birth":    "1980-02-29",
		"agree_to_terms":   true,
		"agree_to_privacy": true,
	})
}

func (tc *TestContext) open(ctx context.Context, path string) error {
	return tc.GET(path)
}

func (tc *TestContext) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	if tc.LastResponse.StatusCode != expectedStatus {
		return fmt.Errorf("expected status %d but got %d", expectedStatus, tc.LastResponse.StatusCode)
	}
	return nil
}

func (tc *TestContext) redirectedTo(ctx context.Context, location string) error {
	status := tc.LastResponse.StatusCode
	if status != 302 && status != 303 {
		return fmt.Errorf("expected a redirect but got %d", status)
	}
	if got := tc.LastResponse.Header.Get("Location"); got != location {
		return fmt.Errorf("expected redirect to %s but got %s", location, got)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	actualValue, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}
