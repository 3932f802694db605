// Package users resolves callers against the registration directory.
//
// A Participant carries the caller's phone, name, email, role and the
// directory status. Callers with status success or incomplete are treated as
// returning callers. The Supabase implementation reads and writes the
// registration_form table; MemoryDirectory backs local runs and tests.
package users
