package whop

import (
	"fmt"
	"time"
)

// AccessLevel is a user's relationship to a Whop resource.
type AccessLevel string

const (
	AccessAdmin    AccessLevel = "admin"
	AccessCustomer AccessLevel = "customer"
	AccessNone     AccessLevel = "no_access"
)

// User is a Whop user profile.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// DisplayName returns the name, falling back to the username.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

// AccessCheck is the result of checking a user's access to a resource.
type AccessCheck struct {
	HasAccess   bool        `json:"has_access"`
	AccessLevel AccessLevel `json:"access_level"`
}

// CompanyRef is the company embedded in other resources.
type CompanyRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Experience is one installed app surface within a company.
type Experience struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Company CompanyRef `json:"company"`
	App     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"app"`
}

func (e *Experience) validate() error {
	if e.ID == "" {
		return fmt.Errorf("experience has no id")
	}
	if e.Company.ID == "" {
		return fmt.Errorf("experience %s has no company", e.ID)
	}
	return nil
}

// Company is a Whop business.
type Company struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Route string `json:"route"`
}

// SupportChannel is a private channel between a company and one customer.
type SupportChannel struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id"`
	CustomerUser *User  `json:"customer_user"`
}

// Message is a posted chat message.
type Message struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// MembershipStatus mirrors the Whop membership lifecycle.
type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipTrialing  MembershipStatus = "trialing"
	MembershipPastDue   MembershipStatus = "past_due"
	MembershipCanceled  MembershipStatus = "canceled"
	MembershipExpired   MembershipStatus = "expired"
	MembershipCompleted MembershipStatus = "completed"
)

// Membership is a user's subscription to a plan.
type Membership struct {
	ID                string           `json:"id"`
	Status            MembershipStatus `json:"status"`
	CancelAtPeriodEnd bool             `json:"cancel_at_period_end"`
	Plan              struct {
		ID string `json:"id"`
	} `json:"plan"`
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	RenewalPeriodEnd *time.Time `json:"renewal_period_end,omitempty"`
	ManageURL        string     `json:"manage_url,omitempty"`
}

// MembershipQuery filters ListMemberships.
type MembershipQuery struct {
	CompanyID string
	UserIDs   []string
	PlanIDs   []string
}

// AppMember is an entry of the app members listing.
type AppMember struct {
	ID       string `json:"id"`
	Status   string `json:"status,omitempty"`
	User     *User  `json:"user,omitempty"`
	PlanName string `json:"plan_name,omitempty"`
	JoinedAt int64  `json:"created_at,omitempty"`
}

// AppMembersPage is one page of the app members listing.
type AppMembersPage struct {
	Data       []AppMember `json:"data"`
	Pagination struct {
		CurrentPage int `json:"current_page"`
		TotalPages  int `json:"total_pages"`
		TotalCount  int `json:"total_count"`
	} `json:"pagination"`
}

type pageInfo struct {
	EndCursor   string `json:"end_cursor"`
	HasNextPage bool   `json:"has_next_page"`
}

type listResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo pageInfo `json:"page_info"`
}
