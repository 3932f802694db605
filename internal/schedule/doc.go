// Package schedule checks appointment availability and books slots on a
// calendar backend. Google Calendar is the production backend.
package schedule
