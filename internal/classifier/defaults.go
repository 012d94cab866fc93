package classifier

// Category labels used by the default rule table
const (
	LabelUserAction         = "User Action"
	LabelSystemNotification = "System Notification"
)

// DefaultRules returns the built-in rule table in priority order. Digits are
// matched with \p{Nd} so non-ASCII decimal digits count, which \d in RE2 does not.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `User User\p{Nd}+ logged (in|out).`, Label: LabelUserAction},
		{Pattern: `Backup (started|ended) at .*`, Label: LabelSystemNotification},
		{Pattern: `Backup completed successfully.`, Label: LabelSystemNotification},
		{Pattern: `System updated to version .*`, Label: LabelSystemNotification},
		{Pattern: `File .* uploaded successfully by user .*`, Label: LabelSystemNotification},
		{Pattern: `Disk cleanup completed successfully.`, Label: LabelSystemNotification},
		{Pattern: `System reboot initiated by user .*`, Label: LabelSystemNotification},
		{Pattern: `Account with ID .* created by .*`, Label: LabelUserAction},
	}
}
