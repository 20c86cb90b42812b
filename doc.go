// Package intake is the authentication and verification core of a donation
// intake platform. Donors, acceptors and admins register and log in with
// bearer tokens, and acceptors go through a reviewed application process.
//
// Accounts:
//   - Account is persisted via Bun. Documents, verification events and notes
//     live in child tables that are only ever appended to, so concurrent
//     writers never lose each other's entries.
//   - The role is fixed at registration. Deactivation flips IsActive and is
//     idempotent; it never touches the verification history.
//
// Verification:
//   - VerificationWorkflow owns status changes. Every transition appends a
//     VerificationEvent in the same transaction as the status update, so the
//     current status always equals the last history entry.
//   - The first document submission of a pending acceptor moves it to
//     in_review with a compare-and-set, so racing submissions record a single
//     event. TransitionRules and WithApprovalRequiresVerifiedDocuments narrow
//     the otherwise permissive graph.
//
// Activity sinks:
//   - ActivitySink is a best-effort audit emitter used by the authenticator,
//     workflow, document registry and admin service. Failures are logged and
//     never fail the request. See the activitymap package for a normalized
//     log sink.
//
// HTTP:
//   - Services wires every component from a Config and Mount registers the
//     REST API on a fiber router. AuthGate validates tokens and checks the
//     account is still active on every request; RequireRoles guards routes.
package intake
