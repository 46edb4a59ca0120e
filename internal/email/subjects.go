package email

const (
	subjectDailyBriefFmt = "Your schedule for %s"
	subjectDeadLetterFmt = "Automation %q needs attention"
)
