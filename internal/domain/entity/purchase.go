package entity

import "time"

// Purchase is the shipment order tracked by the workflow. It is owned by the
// sales domain; this service only reads it and refreshes its status label.
type Purchase struct {
	ID          string     `json:"id"`
	BookNumber  string     `json:"book_number"`
	StatusLabel string     `json:"status_label"`
	Employees   []Employee `json:"employees"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Employee is a staff member assigned to a purchase
type Employee struct {
	EmployeeID string `json:"employee_id"`
	OpenID     string `json:"open_id,omitempty"`
	Position   int    `json:"position"`
}

// PrimaryEmployee returns the first assigned employee, or nil when nobody
// is assigned. Employees are kept ordered by Position.
func (p *Purchase) PrimaryEmployee() *Employee {
	if p == nil || len(p.Employees) == 0 {
		return nil
	}
	return &p.Employees[0]
}

// DisplayName returns the book number when known, otherwise the purchase ID
func (p *Purchase) DisplayName() string {
	if p.BookNumber != "" {
		return p.BookNumber
	}
	return p.ID
}
